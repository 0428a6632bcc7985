package fedi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StatusError is returned when a server answers with a non-2xx status.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.URL, e.Status, e.Body)
}

// UnsupportedError is returned when neither API family answers.
type UnsupportedError struct {
	Domain string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: could not detect a supported API", e.Domain)
}

type httpClient struct {
	client    *http.Client
	userAgent string
	base      string
}

func newHTTPClient(domain string, opts Options) httpClient {
	return httpClient{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		base:      opts.Scheme + "://" + domain,
	}
}

func (c httpClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c httpClient) postJSON(ctx context.Context, path string, body any, out any) error {
	u := c.base + path
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request %s: %w", u, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request %s: %w", u, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c httpClient) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return &StatusError{
			URL:    req.URL.String(),
			Status: resp.StatusCode,
			Body:   strings.ReplaceAll(string(snippet), "\n", " "),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL, err)
	}
	return nil
}

// flexInt decodes counters that some servers send as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// plainText flattens post HTML to text for keyword matching.
func plainText(html string) string {
	if !strings.Contains(html, "<") {
		return html
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

func hostOf(raw, fallback string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fallback
	}
	return strings.ToLower(u.Host)
}
