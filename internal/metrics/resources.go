package metrics

import "sort"

// ResourceRow is the per-type resource summary.
type ResourceRow struct {
	Type  string
	Count int
	Size  int64
}

// FlattenResourceSummary joins resource counts and sizes into rows sorted by
// descending size, then descending count, then type for stability.
func FlattenResourceSummary(counts map[string]int, sizes map[string]int64) []ResourceRow {
	if len(counts) == 0 && len(sizes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(counts))
	rows := make([]ResourceRow, 0, len(counts))
	for typ, count := range counts {
		seen[typ] = struct{}{}
		rows = append(rows, ResourceRow{Type: typ, Count: count, Size: sizes[typ]})
	}
	for typ, size := range sizes {
		if _, ok := seen[typ]; !ok {
			rows = append(rows, ResourceRow{Type: typ, Size: size})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Size == rows[j].Size {
			if rows[i].Count == rows[j].Count {
				return rows[i].Type < rows[j].Type
			}
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Size > rows[j].Size
	})
	return rows
}
