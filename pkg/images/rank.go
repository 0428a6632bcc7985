package images

import (
	"net/url"
	"sort"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
)

// Candidate is one image seen on one or more bubble domains.
type Candidate struct {
	Fingerprint string    `json:"fingerprint"`
	Domains     []string  `json:"domains"`
	Best        fedi.Post `json:"best"`
}

// Consensus is the number of distinct bubble domains that surfaced the image.
func (c Candidate) Consensus() int { return len(c.Domains) }

// Fingerprint identifies the same post seen through different servers: the
// federated URI when known, otherwise the media URL without its query.
func Fingerprint(p fedi.Post) string {
	if p.URI != "" {
		return p.URI
	}
	u, err := url.Parse(p.MediaURL)
	if err != nil {
		return p.MediaURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Rank groups posts by fingerprint and orders the groups by distinct domain
// count, then best single-post engagement, then fingerprint. Posts without
// media are ignored. With no cross-domain agreement the order reduces to
// pure engagement.
func Rank(posts []fedi.Post) []Candidate {
	type group struct {
		domains map[string]bool
		best    fedi.Post
	}
	groups := make(map[string]*group)

	for _, p := range posts {
		if !p.HasMedia() {
			continue
		}
		fp := Fingerprint(p)
		g, ok := groups[fp]
		if !ok {
			g = &group{domains: make(map[string]bool), best: p}
			groups[fp] = g
		}
		g.domains[p.Domain] = true
		if better(p, g.best) {
			g.best = p
		}
	}

	out := make([]Candidate, 0, len(groups))
	for fp, g := range groups {
		c := Candidate{Fingerprint: fp, Best: g.best}
		for d := range g.domains {
			c.Domains = append(c.Domains, d)
		}
		sort.Strings(c.Domains)
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Consensus() != b.Consensus() {
			return a.Consensus() > b.Consensus()
		}
		if a.Best.Engagement != b.Best.Engagement {
			return a.Best.Engagement > b.Best.Engagement
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

// better orders copies of one post: higher engagement, then the copy served
// by its origin server, then domain name.
func better(p, cur fedi.Post) bool {
	if p.Engagement != cur.Engagement {
		return p.Engagement > cur.Engagement
	}
	pHome, curHome := p.Domain == p.Origin, cur.Domain == cur.Origin
	if pHome != curHome {
		return pHome
	}
	return p.Domain < cur.Domain
}
