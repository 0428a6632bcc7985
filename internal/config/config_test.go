package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Second, cfg.Bubble.Timeout())
	assert.Equal(t, 7*24*time.Hour, cfg.Ads.Duration())
	assert.Equal(t, "reuse", cfg.Uploads.DedupMode)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bubble:
  domains: [Mastodon.Social, misskey.io]
  limit_per_domain: 20
uploads:
  dedup_mode: rename
ads:
  ratio_min: 0.2
  ratio_max: 0.9
`), 0o644))

	t.Setenv("SHARKEY_BASE", "https://pocket.example/")
	t.Setenv("SHARKEY_TOKEN", " tok ")
	t.Setenv("AD_RATIO_SCALE", "1000")
	t.Setenv("DRY_RUN", "1")
	t.Setenv("STATUS_SCAN_LIMIT", "15")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Bubble.LimitPerDomain)
	assert.Equal(t, "rename", cfg.Uploads.DedupMode)
	assert.Equal(t, 0.2, cfg.Ads.RatioMin)
	assert.Equal(t, 1000, cfg.Ads.RatioScale)
	assert.Equal(t, 15, cfg.Uploads.StatusScanLimit)
	assert.True(t, cfg.Ads.DryRun)
	assert.Equal(t, "https://pocket.example", cfg.Sharkey.BaseURL)
	assert.Equal(t, "tok", cfg.Sharkey.Token)
	require.NoError(t, cfg.RequireSharkey())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Uploads.DedupMode = "copy"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ads.RatioMin = 0.9
	cfg.Ads.RatioMax = 0.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Bubble.RequestTimeout = "soon"
	assert.Error(t, cfg.Validate())
}

func TestRequireSharkey(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireSharkey())
}

func TestLoadDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nExample.COM\n\n example.org \n# another\n"), 0o644))

	domains, err := LoadDomains(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "example.org"}, domains)
}

func TestResolveDomainsMergesAndDedupes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("b.example\nA.example\n"), 0o644))

	cfg := Default()
	cfg.Bubble.Domains = []string{"a.example", "c.example"}
	cfg.Bubble.DomainsFile = path

	domains, err := cfg.ResolveDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "c.example", "b.example"}, domains)
}

func TestResolveDomainsEmpty(t *testing.T) {
	cfg := Default()
	cfg.Bubble.DomainsFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err := cfg.ResolveDomains()
	assert.Error(t, err)
}
