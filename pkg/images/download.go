package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotImage is returned when the bytes are not a supported image format.
	ErrNotImage = errors.New("not a supported image")
	// ErrTooLarge is returned when the body exceeds the size cap.
	ErrTooLarge = errors.New("image too large")
)

// SafeExtensions are the formats uploaded to the Drive.
var SafeExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Image is a downloaded image and its identity.
type Image struct {
	URL    string
	Data   []byte
	SHA256 string
	MIME   string
	Ext    string
}

type httpStatusError struct {
	url    string
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.url, e.status)
}

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	Timeout   time.Duration
	MaxBytes  int64
	Retries   int
	UserAgent string
	Throttle  *Throttle
	Client    *http.Client
	Logger    logging.Logger
}

// Downloader fetches candidate images with bounded time, size and retries.
type Downloader struct {
	client    *http.Client
	throttle  *Throttle
	maxBytes  int64
	userAgent string
	retry     retrypolicy.RetryPolicy[*Image]
	logger    logging.Logger
}

// NewDownloader creates a downloader. Zero values fall back to defaults.
func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "BubbleAds/1.0"
	}
	if opts.Throttle == nil {
		opts.Throttle = NewThrottle(0, 1, 0)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Downloader{
		client:    opts.Client,
		throttle:  opts.Throttle,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		retry: retrypolicy.NewBuilder[*Image]().
			HandleIf(func(_ *Image, err error) bool { return transient(err) }).
			WithBackoff(200*time.Millisecond, 3*time.Second).
			WithMaxRetries(opts.Retries).
			WithJitterFactor(0.1).
			ReturnLastFailure().
			Build(),
		logger: logging.OrDiscard(opts.Logger),
	}
}

// Fetch downloads rawURL and hashes the raw bytes. Every attempt is charged
// to the media host's budget.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("download %q: invalid url", rawURL)
	}
	host := strings.ToLower(u.Host)

	return failsafe.With(d.retry).WithContext(ctx).Get(func() (*Image, error) {
		if err := d.throttle.Wait(ctx, host); err != nil {
			return nil, err
		}
		return d.fetchOnce(ctx, rawURL)
	})
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{url: rawURL, status: resp.StatusCode}
	}
	if resp.ContentLength > d.maxBytes {
		return nil, fmt.Errorf("download %s: %d bytes: %w", rawURL, resp.ContentLength, ErrTooLarge)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("download %s: over %d bytes: %w", rawURL, d.maxBytes, ErrTooLarge)
	}

	sum := sha256.Sum256(data)
	mt := mimetype.Detect(data)
	ext := strings.ToLower(mt.Extension())
	if !strings.HasPrefix(mt.String(), "image/") || !SafeExtensions[ext] {
		return nil, fmt.Errorf("download %s: detected %s: %w", rawURL, mt.String(), ErrNotImage)
	}

	return &Image{
		URL:    rawURL,
		Data:   data,
		SHA256: hex.EncodeToString(sum[:]),
		MIME:   mt.String(),
		Ext:    ext,
	}, nil
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Skippable reports whether a download error is specific to the candidate,
// so the next candidate may be tried instead of abandoning the tag.
func Skippable(err error) bool {
	if errors.Is(err, ErrNotImage) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrBudgetExhausted) {
		return true
	}
	var se *httpStatusError
	return errors.As(err, &se) && se.status >= 400 && se.status < 500 && se.status != http.StatusTooManyRequests
}
