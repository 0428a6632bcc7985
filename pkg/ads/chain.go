package ads

import (
	"errors"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/sharkey"
)

// Encoding writes one representation of a field group into a payload.
type Encoding struct {
	Name  string
	Apply func(payload map[string]any)
}

// FieldChain is the ordered list of encodings for one adaptable field group.
// It only moves forward: once the server rejected an encoding it is not
// offered again in this run.
type FieldChain struct {
	Name      string
	Keys      []string
	encodings []Encoding
	pos       int
}

// NewFieldChain creates a chain starting at its first encoding.
func NewFieldChain(name string, keys []string, encodings ...Encoding) *FieldChain {
	return &FieldChain{Name: name, Keys: keys, encodings: encodings}
}

// Current returns the encoding in use.
func (c *FieldChain) Current() Encoding { return c.encodings[c.pos] }

// Advance moves to the next encoding. It returns false once exhausted.
func (c *FieldChain) Advance() bool {
	if c.pos+1 >= len(c.encodings) {
		return false
	}
	c.pos++
	return true
}

// Remaining returns how many encodings are left after the current one.
func (c *FieldChain) Remaining() int { return len(c.encodings) - 1 - c.pos }

// Owns reports whether field is one of the chain's payload keys.
func (c *FieldChain) Owns(field string) bool {
	for _, k := range c.Keys {
		if strings.EqualFold(k, field) {
			return true
		}
	}
	return false
}

func (c *FieldChain) mentionedIn(text string) bool {
	text = strings.ToLower(text)
	for _, k := range c.Keys {
		if strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Chains is the set of adaptable fields of an ad payload.
type Chains []*FieldChain

// Apply writes every chain's current encoding into payload.
func (cs Chains) Apply(payload map[string]any) {
	for _, c := range cs {
		c.Current().Apply(payload)
	}
}

// Attribute finds the chain a validation error names: the structured
// parameter first, then a key mentioned in the message or body. It returns
// nil for errors that are not validation failures or name no chain.
func (cs Chains) Attribute(err error) *FieldChain {
	var apiErr *sharkey.APIError
	if !errors.As(err, &apiErr) || !apiErr.Validation() {
		return nil
	}
	if field := apiErr.Field(); field != "" {
		for _, c := range cs {
			if c.Owns(field) {
				return c
			}
		}
		return nil
	}
	for _, text := range []string{apiErr.Message, apiErr.Reason, apiErr.Body} {
		for _, c := range cs {
			if text != "" && c.mentionedIn(text) {
				return c
			}
		}
	}
	return nil
}

var dayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DayOfWeekChain tries every known "every day" encoding of dayOfWeek.
func DayOfWeekChain() *FieldChain {
	set := func(v any) func(map[string]any) {
		return func(p map[string]any) { p["dayOfWeek"] = v }
	}
	allDays := []bool{true, true, true, true, true, true, true}
	return NewFieldChain("dayOfWeek", []string{"dayOfWeek"},
		Encoding{Name: "bitmask", Apply: set(127)},
		Encoding{Name: "zero", Apply: set(0)},
		Encoding{Name: "index0", Apply: set([]int{0, 1, 2, 3, 4, 5, 6})},
		Encoding{Name: "index1", Apply: set([]int{1, 2, 3, 4, 5, 6, 7})},
		Encoding{Name: "names", Apply: set(dayNames)},
		Encoding{Name: "booleans", Apply: set(allDays)},
	)
}

// Window is the run window written into the date keys.
type Window struct {
	Start time.Time
	End   time.Time
}

// DateChain encodes the run window as ISO-8601 first, then epoch milliseconds.
func DateChain(startKey, endKey string, w *Window) *FieldChain {
	return NewFieldChain("dates", []string{startKey, endKey},
		Encoding{Name: "iso8601", Apply: func(p map[string]any) {
			p[startKey] = w.Start.UTC().Format(time.RFC3339Nano)
			p[endKey] = w.End.UTC().Format(time.RFC3339Nano)
		}},
		Encoding{Name: "epoch-ms", Apply: func(p map[string]any) {
			p[startKey] = w.Start.UnixMilli()
			p[endKey] = w.End.UnixMilli()
		}},
	)
}
