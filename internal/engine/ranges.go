package engine

// span is a half-open index interval [Start, End) into the remote catalog's
// stable ordering.
type span struct {
	Start int
	End   int
}

// rangeSet is a sorted set of disjoint spans. The loader keeps one set for
// loaded indices and one for in-flight loads so an overlapping viewport
// request never refetches covered indices or duplicates an in-flight call.
type rangeSet struct {
	spans []span
}

// add merges [start, end) into the set, coalescing overlapping and
// adjacent spans.
func (r *rangeSet) add(start, end int) {
	if end <= start {
		return
	}

	merged := span{Start: start, End: end}
	out := r.spans[:0]
	inserted := false
	for _, s := range r.spans {
		switch {
		case s.End < merged.Start:
			out = append(out, s)
		case merged.End < s.Start:
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, s)
		default:
			// Overlapping or adjacent: absorb into merged.
			if s.Start < merged.Start {
				merged.Start = s.Start
			}
			if s.End > merged.End {
				merged.End = s.End
			}
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	r.spans = out
}

// remove cuts [start, end) out of the set.
func (r *rangeSet) remove(start, end int) {
	if end <= start {
		return
	}

	var out []span
	for _, s := range r.spans {
		if s.End <= start || s.Start >= end {
			out = append(out, s)
			continue
		}
		if s.Start < start {
			out = append(out, span{Start: s.Start, End: start})
		}
		if s.End > end {
			out = append(out, span{Start: end, End: s.End})
		}
	}
	r.spans = out
}

// covers reports whether every index of [start, end) is in the set.
func (r *rangeSet) covers(start, end int) bool {
	return len(r.gaps(start, end)) == 0
}

// gaps returns the subspans of [start, end) not covered by the set.
func (r *rangeSet) gaps(start, end int) []span {
	if end <= start {
		return nil
	}

	var out []span
	cursor := start
	for _, s := range r.spans {
		if s.End <= cursor {
			continue
		}
		if s.Start >= end {
			break
		}
		if s.Start > cursor {
			out = append(out, span{Start: cursor, End: s.Start})
		}
		if s.End > cursor {
			cursor = s.End
		}
		if cursor >= end {
			return out
		}
	}
	if cursor < end {
		out = append(out, span{Start: cursor, End: end})
	}
	return out
}

// union returns the gaps of [start, end) not covered by either set.
func union(a, b *rangeSet, start, end int) []span {
	var combined rangeSet
	for _, s := range a.spans {
		combined.add(s.Start, s.End)
	}
	for _, s := range b.spans {
		combined.add(s.Start, s.End)
	}
	return combined.gaps(start, end)
}
