package sharkey

import (
	"context"
	"fmt"
)

// Ad is an advertisement as the server returns it. The key set differs
// between forks, so it stays a map.
type Ad map[string]any

func (a Ad) str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Ad) ID() string    { return a.str("id") }
func (a Ad) Title() string { return a.str("title") }
func (a Ad) Memo() string  { return a.str("memo") }
func (a Ad) URL() string   { return a.str("url") }

const adPageSize = 100

// maxAdPages bounds pagination against servers that ignore untilId.
const maxAdPages = 50

// ListAds returns every advertisement, newest first.
func (c *Client) ListAds(ctx context.Context) ([]Ad, error) {
	var all []Ad
	untilID := ""
	for page := 0; page < maxAdPages; page++ {
		params := map[string]any{"limit": adPageSize}
		if untilID != "" {
			params["untilId"] = untilID
		}

		var batch []Ad
		if err := c.Call(ctx, "admin/ad/list", params, &batch); err != nil {
			return nil, fmt.Errorf("list ads: %w", err)
		}
		all = append(all, batch...)

		if len(batch) < adPageSize {
			break
		}
		next := batch[len(batch)-1].ID()
		if next == "" || next == untilID {
			break
		}
		untilID = next
	}
	return all, nil
}

// CreateAd creates an advertisement and returns the server's copy.
func (c *Client) CreateAd(ctx context.Context, payload map[string]any) (Ad, error) {
	var ad Ad
	if err := c.Call(ctx, "admin/ad/create", payload, &ad); err != nil {
		return nil, err
	}
	return ad, nil
}

// UpdateAd updates the advertisement named by payload["id"].
func (c *Client) UpdateAd(ctx context.Context, payload map[string]any) error {
	return c.Call(ctx, "admin/ad/update", payload, nil)
}
