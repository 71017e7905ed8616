package metrics

import "sort"

// FailureBucket is the number of failed requests sharing a reason.
type FailureBucket struct {
	Reason string
	Count  int
}

// MergeFailures adds the counts in src into dst, allocating dst if needed.
func MergeFailures(dst, src map[string]int) map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int, len(src))
	}
	for reason, count := range src {
		dst[reason] += count
	}
	return dst
}

// FlattenFailures converts a reason->count map into rows sorted by
// descending count, then by reason for stability.
func FlattenFailures(failures map[string]int) []FailureBucket {
	if len(failures) == 0 {
		return nil
	}
	rows := make([]FailureBucket, 0, len(failures))
	for reason, count := range failures {
		rows = append(rows, FailureBucket{Reason: reason, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Reason < rows[j].Reason
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
