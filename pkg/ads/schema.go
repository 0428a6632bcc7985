package ads

import (
	"sort"
	"strings"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/sharkey"
)

// DefaultPlace is used when neither config nor existing ads name a place.
const DefaultPlace = "horizontal"

// Schema is what existing ads reveal about this server's ad fields.
type Schema struct {
	HasRatio bool   `json:"has_ratio"`
	StartKey string `json:"start_key"`
	EndKey   string `json:"end_key"`
	Place    string `json:"place"`
	Sampled  int    `json:"sampled"`
}

var (
	startKeys = map[string]bool{"start": true, "startat": true, "startsat": true, "startdate": true}
	endKeys   = map[string]bool{"end": true, "endat": true, "enddate": true, "expiresat": true}
)

// ProbeSchema inspects existing ads. An empty list yields Misskey's field
// names with ratio enabled. The place is the configured one, else the most
// common existing one, else DefaultPlace.
func ProbeSchema(existing []sharkey.Ad, configuredPlace string) Schema {
	s := Schema{Sampled: len(existing), HasRatio: len(existing) == 0}
	places := make(map[string]int)

	for _, ad := range existing {
		if _, ok := ad["ratio"]; ok {
			s.HasRatio = true
		}
		if p, ok := ad["place"].(string); ok && p != "" {
			places[p]++
		}

		keys := make([]string, 0, len(ad))
		for k := range ad {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lk := strings.ToLower(k)
			if s.StartKey == "" && startKeys[lk] {
				s.StartKey = k
			}
			if s.EndKey == "" && endKeys[lk] {
				s.EndKey = k
			}
		}
	}

	if s.StartKey == "" {
		s.StartKey = "startsAt"
	}
	if s.EndKey == "" {
		s.EndKey = "expiresAt"
	}

	switch {
	case strings.TrimSpace(configuredPlace) != "":
		s.Place = strings.TrimSpace(configuredPlace)
	case len(places) > 0:
		s.Place = mostCommon(places)
	default:
		s.Place = DefaultPlace
	}
	return s
}

func mostCommon(counts map[string]int) string {
	best, bestN := "", -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
