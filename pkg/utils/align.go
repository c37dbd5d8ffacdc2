package utils

const alignThreshold = 0.8

// Align maps model output items back onto the expected names. Items already
// at the right position are kept there; the rest are matched by exact
// case-insensitive name, then by the closest name with Similarity of at least
// 0.8. Positions that find no item are nil.
func Align[T any](names []string, items []T, nameOf func(T) string) []*T {
	out := make([]*T, len(names))
	used := make([]bool, len(items))

	for i := range min(len(names), len(items)) {
		n := NormName(nameOf(items[i]))
		if n == "" || n == NormName(names[i]) {
			out[i] = &items[i]
			used[i] = true
		}
	}

	for i, name := range names {
		if out[i] != nil {
			continue
		}
		want := NormName(name)
		for j := range items {
			if !used[j] && NormName(nameOf(items[j])) == want {
				out[i] = &items[j]
				used[j] = true
				break
			}
		}
	}

	for i, name := range names {
		if out[i] != nil {
			continue
		}
		best, bestScore := -1, alignThreshold
		for j := range items {
			if used[j] {
				continue
			}
			if s := Similarity(NormName(name), NormName(nameOf(items[j]))); s >= bestScore {
				best, bestScore = j, s
			}
		}
		if best != -1 {
			out[i] = &items[best]
			used[best] = true
		}
	}

	return out
}
