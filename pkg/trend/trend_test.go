package trend

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tags(pairs ...any) []fedi.TrendTag {
	var out []fedi.TrendTag
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, fedi.TrendTag{Name: pairs[i].(string), Count: pairs[i+1].(int)})
	}
	return out
}

func TestMergeConsensusBeatsVolume(t *testing.T) {
	merged := Merge([]DomainTrends{
		{Domain: "a.example", Tags: tags("#Cats", 50, "dogs", 10)},
		{Domain: "b.example", Tags: tags("Dogs", 10)},
	}, nil)

	require.Len(t, merged, 2)
	assert.Equal(t, "dogs", merged[0].Tag)
	assert.Equal(t, 2, merged[0].SourceCount)
	assert.InDelta(t, 2.6, merged[0].Score, 1e-9)
	assert.Equal(t, []string{"a.example", "b.example"}, merged[0].SourceDomains)
	assert.Equal(t, map[string]int{"a.example": 10, "b.example": 10}, merged[0].PerDomain)

	assert.Equal(t, "cats", merged[1].Tag)
	assert.InDelta(t, 1.5, merged[1].Score, 1e-9)
}

func TestMergeIsCommutative(t *testing.T) {
	a := DomainTrends{Domain: "a", Tags: tags("x", 3, "y", 9, "z", 1)}
	b := DomainTrends{Domain: "b", Tags: tags("y", 2, "z", 7)}
	c := DomainTrends{Domain: "c", Tags: tags("x", 5, "w", 100)}

	first := Merge([]DomainTrends{a, b, c}, nil)
	second := Merge([]DomainTrends{c, a, b}, nil)
	third := Merge([]DomainTrends{b, c, a}, nil)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
}

func TestMergeMoreDomainsAlwaysWins(t *testing.T) {
	merged := Merge([]DomainTrends{
		{Domain: "a", Tags: tags("huge", 1000000, "small", 1)},
		{Domain: "b", Tags: tags("other", 1000, "small", 1)},
		{Domain: "c", Tags: tags("other", 1000, "small", 1)},
	}, nil)

	assert.Equal(t, []string{"small", "other", "huge"}, tagNames(merged))
	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].SourceCount, merged[i].SourceCount)
	}
}

func TestMergeFoldsCaseAndFilters(t *testing.T) {
	merged := Merge([]DomainTrends{
		{Domain: "a", Tags: tags("Art", 2, "#art", 3, "NSFW", 99, "", 4)},
	}, fedi.NewFilter(nil))

	require.Len(t, merged, 1)
	assert.Equal(t, "art", merged[0].Tag)
	assert.Equal(t, 5, merged[0].Total)
	assert.InDelta(t, 2.0, merged[0].Score, 1e-9)
}

func TestSelect(t *testing.T) {
	merged := []Merged{{Tag: "a"}, {Tag: "b"}, {Tag: "c"}}
	assert.Equal(t, []string{"a", "b"}, tagNames(Select(merged, 2)))
	assert.Len(t, Select(merged, 10), 3)
	assert.Empty(t, Select(merged, 0))
}

func TestParseSelection(t *testing.T) {
	got, err := ParseSelection("1-3, 7,2", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 7}, got)

	got, err = ParseSelection("5-3", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, got)

	got, err = ParseSelection(" 1 - 3 , 6 -5", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 5, 6}, got)

	for _, bad := range []string{"0", "11", "abc", "1-x", "", "8-12", "1 5"} {
		_, err := ParseSelection(bad, 10)
		assert.Error(t, err, bad)
	}
}

func TestPrompt(t *testing.T) {
	merged := []Merged{{Tag: "a"}, {Tag: "b"}, {Tag: "c"}}
	var out bytes.Buffer

	picked, err := Prompt(strings.NewReader("3,1\n"), &out, merged, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, tagNames(picked))
	assert.Contains(t, out.String(), "#a")

	picked, err = Prompt(strings.NewReader("\n"), &out, merged, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tagNames(picked))

	_, err = Prompt(strings.NewReader("9\n"), &out, merged, 2)
	assert.Error(t, err)
}

type fakeServer struct {
	domain string
	tags   []fedi.TrendTag
	err    error
}

func (f *fakeServer) Domain() string    { return f.domain }
func (f *fakeServer) Stack() fedi.Stack { return fedi.StackMastodon }
func (f *fakeServer) Trends(context.Context, int) ([]fedi.TrendTag, error) {
	return f.tags, f.err
}
func (f *fakeServer) TagTimeline(context.Context, string, int) ([]fedi.Post, error) {
	return nil, nil
}

type fakeResolver map[string]*fakeServer

func (r fakeResolver) Resolve(_ context.Context, domain string) (fedi.Server, error) {
	s, ok := r[domain]
	if !ok {
		return nil, &fedi.UnsupportedError{Domain: domain}
	}
	return s, nil
}

func TestCollectSkipsFailingDomains(t *testing.T) {
	resolver := fakeResolver{
		"b": {domain: "b", tags: tags("dogs", 1)},
		"a": {domain: "a", tags: tags("cats", 2)},
		"c": {domain: "c", err: errors.New("timeout")},
	}
	agg := NewAggregator(resolver, 10, 2, nil)

	col, err := agg.Collect(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, col.Domains, 2)
	assert.Equal(t, "a", col.Domains[0].Domain)
	assert.Equal(t, "b", col.Domains[1].Domain)
	assert.Contains(t, col.Failed, "c")
	assert.Contains(t, col.Failed, "d")
}

func TestCollectAllFailed(t *testing.T) {
	agg := NewAggregator(fakeResolver{"a": {domain: "a", err: errors.New("down")}}, 10, 2, nil)
	_, err := agg.Collect(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
}

func tagNames(ms []Merged) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Tag)
	}
	return out
}
