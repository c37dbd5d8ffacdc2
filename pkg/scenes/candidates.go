package scenes

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"inkwell/pkg/schema"
)

const (
	minSpan = 3
	maxSpan = 7
)

var densityScore = map[string]float64{
	schema.DensityLow:    0.2,
	schema.DensityMedium: 0.6,
	schema.DensityHigh:   1.0,
}

var highDramaPositions = []string{
	schema.PositionClimax,
	schema.PositionMidpoint,
	schema.PositionIncitingIncident,
}

// Options tunes the deterministic pass. Zero fields take the defaults.
type Options struct {
	WindowSize int     // chunks per window, clamped to [3, 7]
	Step       int     // window advance
	Overlap    float64 // suppression threshold as a fraction of the smaller span
}

func DefaultOptions() Options {
	return Options{WindowSize: 5, Step: 2, Overlap: 0.5}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	o.WindowSize = min(max(cmp.Or(o.WindowSize, d.WindowSize), minSpan), maxSpan)
	o.Step = max(cmp.Or(o.Step, d.Step), 1)
	if o.Overlap <= 0 {
		o.Overlap = d.Overlap
	}
	return o
}

func density(v string) float64 {
	if s, ok := densityScore[strings.ToLower(strings.TrimSpace(v))]; ok {
		return s
	}
	return densityScore[schema.DensityLow]
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Candidates slides a window over the analyses in chunk order, scores each
// window, suppresses overlapping lower-ranked windows and returns up to
// ceil(sceneCount*1.2) survivors, best first.
func Candidates(analyses []schema.ChunkAnalysis, sceneCount int, opts Options) []schema.SceneCandidate {
	if len(analyses) == 0 {
		return []schema.SceneCandidate{}
	}
	opts = opts.withDefaults()

	byIndex := make(map[int]schema.ChunkAnalysis, len(analyses))
	for _, a := range analyses {
		byIndex[a.ChunkIndex] = a
	}
	ordered := make([]schema.ChunkAnalysis, 0, len(byIndex))
	for _, a := range byIndex {
		ordered = append(ordered, a)
	}
	slices.SortFunc(ordered, func(a, b schema.ChunkAnalysis) int { return cmp.Compare(a.ChunkIndex, b.ChunkIndex) })

	windows := make([][]schema.ChunkAnalysis, 0, len(ordered)/opts.Step+1)
	n := len(ordered)
	for start := 0; start < n; start += opts.Step {
		end := min(start+opts.WindowSize, n)
		if n < minSpan {
			windows = append(windows, ordered)
			break
		}
		if end-start < minSpan {
			continue
		}
		windows = append(windows, ordered[start:end])
	}

	var gated, all []schema.SceneCandidate
	for _, w := range windows {
		c, ok := score(w)
		all = append(all, c)
		if ok {
			gated = append(gated, c)
		}
	}
	candidates := gated
	if len(candidates) == 0 {
		candidates = all
	}

	slices.SortStableFunc(candidates, func(a, b schema.SceneCandidate) int {
		return cmp.Compare(b.CompositeScore, a.CompositeScore)
	})

	kept := suppress(candidates, opts.Overlap)
	target := max(sceneCount, int(math.Ceil(float64(sceneCount)*1.2)))
	if target < 0 {
		target = 0
	}
	if len(kept) > target {
		kept = kept[:target]
	}
	return kept
}

// score computes the composite score and reports whether at least two of the
// four inclusion criteria hold.
func score(window []schema.ChunkAnalysis) (schema.SceneCandidate, bool) {
	var sumDramatic, sumDensity float64
	var highCount, characterCount int
	position := false
	entities := make(map[string]struct{})

	for _, c := range window {
		sumDramatic += c.DramaticScore
		sumDensity += density(c.VisualDensity)
		if strings.EqualFold(c.VisualDensity, schema.DensityHigh) {
			highCount++
		}
		characterCount += len(c.CharactersPresent)
		if slices.Contains(highDramaPositions, c.NarrativePosition) {
			position = true
		}
		for _, name := range slices.Concat(c.CharactersPresent, c.LocationsPresent) {
			if name = strings.TrimSpace(name); name != "" {
				entities[name] = struct{}{}
			}
		}
	}

	n := float64(len(window))
	avgDramatic := sumDramatic / n
	avgDensity := sumDensity / n
	bonus := min(1.0, float64(len(entities))/3)
	composite := 0.5*avgDramatic + 0.3*avgDensity + 0.2*bonus

	unique := make([]string, 0, len(entities))
	for name := range entities {
		unique = append(unique, name)
	}
	slices.Sort(unique)

	met := 0
	for _, ok := range []bool{avgDramatic >= 0.6, highCount >= 2, characterCount >= 2, position} {
		if ok {
			met++
		}
	}

	return schema.SceneCandidate{
		ChunkStart:     window[0].ChunkIndex,
		ChunkEnd:       window[len(window)-1].ChunkIndex,
		CompositeScore: round4(composite),
		AvgDramatic:    round4(avgDramatic),
		AvgDensity:     round4(avgDensity),
		UniqueEntities: unique,
		SampleChunks:   window,
	}, met >= 2
}

// suppress keeps each candidate only if it does not overlap an already kept,
// higher-ranked window by more than threshold of the smaller span.
func suppress(ranked []schema.SceneCandidate, threshold float64) []schema.SceneCandidate {
	kept := make([]schema.SceneCandidate, 0, len(ranked))
	for _, c := range ranked {
		if !slices.ContainsFunc(kept, func(k schema.SceneCandidate) bool { return overlaps(c, k, threshold) }) {
			kept = append(kept, c)
		}
	}
	return kept
}

func overlaps(a, b schema.SceneCandidate, threshold float64) bool {
	return overlapsRange(a.ChunkStart, a.ChunkEnd, b.ChunkStart, b.ChunkEnd, threshold)
}

func overlapsRange(s1, e1, s2, e2 int, threshold float64) bool {
	overlap := max(0, min(e1, e2)-max(s1, s2)+1)
	smaller := min(max(1, e1-s1+1), max(1, e2-s2+1))
	return float64(overlap) > float64(smaller)*threshold
}
