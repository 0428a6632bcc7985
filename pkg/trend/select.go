package trend

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Select returns the top n entries of a ranking. n <= 0 returns nothing.
func Select(merged []Merged, n int) []Merged {
	if n <= 0 {
		return nil
	}
	if n > len(merged) {
		n = len(merged)
	}
	out := make([]Merged, n)
	copy(out, merged[:n])
	return out
}

// ParseSelection resolves an expression such as "1-5,8,12" into 1-based
// indices in the order given, without duplicates. Reversed ranges are
// accepted ("5-3" is 3,4,5). Anything out of [1, max] or non-numeric is an error.
func ParseSelection(expr string, max int) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	add := func(i int) error {
		if i < 1 || i > max {
			return fmt.Errorf("index %d out of range 1-%d", i, max)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
		return nil
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("parse selection %q: invalid index %q", expr, part)
		}
		if !isRange {
			if err := add(start); err != nil {
				return nil, fmt.Errorf("parse selection %q: %w", expr, err)
			}
			continue
		}

		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("parse selection %q: invalid range %q", expr, part)
		}
		if start > end {
			start, end = end, start
		}
		for i := start; i <= end; i++ {
			if err := add(i); err != nil {
				return nil, fmt.Errorf("parse selection %q: %w", expr, err)
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("parse selection %q: no indices", expr)
	}
	return out, nil
}

// Pick returns the entries at the given 1-based indices.
func Pick(merged []Merged, indices []int) []Merged {
	out := make([]Merged, 0, len(indices))
	for _, i := range indices {
		if i >= 1 && i <= len(merged) {
			out = append(out, merged[i-1])
		}
	}
	return out
}

// Prompt prints the ranking and reads one selection line from r. An empty
// line accepts the top n.
func Prompt(r io.Reader, w io.Writer, merged []Merged, n int) ([]Merged, error) {
	for i, m := range merged {
		fmt.Fprintf(w, "%3d. #%-30s score=%.3f domains=%d total=%d\n", i+1, m.Tag, m.Score, m.SourceCount, m.Total)
	}
	fmt.Fprintf(w, "\nSelect tags (e.g. 1-5,8) [enter = top %d]: ", n)

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Select(merged, n), nil
	}

	indices, err := ParseSelection(line, len(merged))
	if err != nil {
		return nil, err
	}
	return Pick(merged, indices), nil
}
