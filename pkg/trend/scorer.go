package trend

import (
	"sort"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
)

// Merged is one tag's cross-bubble ranking entry.
type Merged struct {
	Tag           string         `json:"tag"`
	Score         float64        `json:"score"`
	SourceCount   int            `json:"source_count"`
	Total         int            `json:"total"`
	SourceDomains []string       `json:"source_domains"`
	PerDomain     map[string]int `json:"per_domain"`
}

// Merge folds per-domain trend lists into one ranking keyed by normalized tag.
//
// The score is the number of agreeing domains plus a volume term in [0, 1]:
// each domain contributes count/maxCount for the tag, averaged over every
// responding domain. Agreement is therefore always the primary key. A nil
// filter keeps every tag.
func Merge(per []DomainTrends, filter *fedi.Filter) []Merged {
	sorted := make([]DomainTrends, len(per))
	copy(sorted, per)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Domain < sorted[j].Domain })

	byTag := make(map[string]*Merged)
	volume := make(map[string]float64)

	for _, dt := range sorted {
		counts := domainCounts(dt.Tags, filter)
		maxCount := 0
		for _, c := range counts {
			if c > maxCount {
				maxCount = c
			}
		}

		for tag, c := range counts {
			m, ok := byTag[tag]
			if !ok {
				m = &Merged{Tag: tag, PerDomain: make(map[string]int)}
				byTag[tag] = m
			}
			m.PerDomain[dt.Domain] = c
			m.SourceDomains = append(m.SourceDomains, dt.Domain)
			m.Total += c
			if maxCount > 0 {
				volume[tag] += float64(c) / float64(maxCount)
			}
		}
	}

	responding := float64(len(sorted))
	merged := make([]Merged, 0, len(byTag))
	for tag, m := range byTag {
		m.SourceCount = len(m.SourceDomains)
		m.Score = float64(m.SourceCount)
		if responding > 0 {
			m.Score += volume[tag] / responding
		}
		merged = append(merged, *m)
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.SourceCount != b.SourceCount {
			return a.SourceCount > b.SourceCount
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Tag < b.Tag
	})
	return merged
}

// domainCounts normalizes one domain's tags, summing entries that collapse
// to the same tag and dropping denylisted ones.
func domainCounts(tags []fedi.TrendTag, filter *fedi.Filter) map[string]int {
	counts := make(map[string]int, len(tags))
	for _, t := range tags {
		tag := fedi.NormalizeTag(t.Name)
		if tag == "" {
			continue
		}
		if filter != nil && !filter.TagAllowed(tag) {
			continue
		}
		c := t.Count
		if c <= 0 {
			c = 1
		}
		counts[tag] += c
	}
	return counts
}
