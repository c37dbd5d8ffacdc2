package diff

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"inkwell/pkg/schema"
	"inkwell/pkg/utils"

	"github.com/aryann/difflib"
)

type ChangeType int

const (
	Unchanged ChangeType = iota
	Added
	Removed
	Modified
)

var changeNames = map[ChangeType]string{
	Unchanged: "unchanged",
	Added:     "added",
	Removed:   "removed",
	Modified:  "modified",
}

func (c ChangeType) String() string { return changeNames[c] }

func (c ChangeType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

type Op int

const (
	Equal Op = iota
	Insert
	Delete
)

func (o Op) MarshalText() ([]byte, error) {
	switch o {
	case Insert:
		return []byte("insert"), nil
	case Delete:
		return []byte("delete"), nil
	default:
		return []byte("equal"), nil
	}
}

type WordDelta struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

type StringDiff struct {
	Old    string      `json:"old"`
	New    string      `json:"new"`
	Deltas []WordDelta `json:"deltas"`
}

// Changed reports whether any delta inserts or deletes text.
func (sd StringDiff) Changed() bool {
	return slices.ContainsFunc(sd.Deltas, func(d WordDelta) bool { return d.Op != Equal })
}

type FieldDiff struct {
	Path string     `json:"path"`
	Str  StringDiff `json:"diff"`
}

type SceneDiff struct {
	Title      string      `json:"title"`
	State      ChangeType  `json:"state"`
	OldRange   [2]int      `json:"old_range,omitzero"`
	NewRange   [2]int      `json:"new_range,omitzero"`
	FieldDiffs []FieldDiff `json:"field_diffs,omitempty"`
	CharAdd    []string    `json:"characters_added,omitempty"`
	CharDel    []string    `json:"characters_removed,omitempty"`
}

type ScenesDiff struct {
	Scenes []SceneDiff `json:"scenes"`
}

// Counts tallies scenes per change state.
func (d ScenesDiff) Counts() map[string]int {
	out := map[string]int{}
	for _, s := range d.Scenes {
		out[s.State.String()]++
	}
	return out
}

const (
	minOverlap    = 0.5
	minTitleMatch = 0.70
)

// Scenes pairs the previous analysis with the new one, first by chunk range
// overlap and then by title similarity. Unpaired scenes are added or removed.
func Scenes(oldS, newS []schema.Scene) ScenesDiff {
	oUsed := make([]bool, len(oldS))
	nUsed := make([]bool, len(newS))
	var out []SceneDiff

	pair := func(i, j int) {
		out = append(out, sceneDiff(oldS[i], newS[j]))
		oUsed[i], nUsed[j] = true, true
	}

	for j := range newS {
		bestI, best := -1, 0.0
		for i := range oldS {
			if oUsed[i] {
				continue
			}
			if s := overlap(oldS[i], newS[j]); s > best {
				bestI, best = i, s
			}
		}
		if bestI >= 0 && best >= minOverlap {
			pair(bestI, j)
		}
	}

	for j := range newS {
		if nUsed[j] {
			continue
		}
		bestI, best := -1, 0.0
		for i := range oldS {
			if oUsed[i] {
				continue
			}
			if s := utils.Similarity(oldS[i].Title, newS[j].Title); s > best {
				bestI, best = i, s
			}
		}
		if bestI >= 0 && best >= minTitleMatch {
			pair(bestI, j)
		}
	}

	for i, s := range oldS {
		if !oUsed[i] {
			out = append(out, SceneDiff{Title: s.Title, State: Removed, OldRange: span(s)})
		}
	}
	for j, s := range newS {
		if !nUsed[j] {
			out = append(out, SceneDiff{
				Title:    s.Title,
				State:    Added,
				NewRange: span(s),
				FieldDiffs: []FieldDiff{
					{Path: "title", Str: strEq("", s.Title)},
					{Path: "narrative_summary", Str: strEq("", s.NarrativeSummary)},
				},
				CharAdd: slices.Clone(s.CharactersPresent),
			})
		}
	}

	slices.SortStableFunc(out, func(a, b SceneDiff) int {
		return cmp.Compare(position(a), position(b))
	})
	return ScenesDiff{Scenes: out}
}

// Prompt is the word diff of a scene prompt edit.
func Prompt(oldP, newP string) StringDiff {
	return strDiff(oldP, newP)
}

func sceneDiff(o, n schema.Scene) SceneDiff {
	fd := make([]FieldDiff, 0, 8)
	add := func(path, a, b string) {
		if a == b {
			return
		}
		fd = append(fd, FieldDiff{Path: path, Str: strDiff(a, b)})
	}

	add("title", o.Title, n.Title)
	add("scene_type", o.SceneType, n.SceneType)
	if span(o) != span(n) {
		add("chunks", rangeText(span(o)), rangeText(span(n)))
	}
	add("narrative_summary", o.NarrativeSummary, n.NarrativeSummary)
	add("visual_description", o.VisualDescription, n.VisualDescription)
	add("primary_location", o.PrimaryLocation, n.PrimaryLocation)
	add("scene_prompt_draft", o.ScenePromptDraft, n.ScenePromptDraft)
	add("t2i_prompt.abstract", o.T2IPrompt.Abstract, n.T2IPrompt.Abstract)

	adds, dels := diffNames(o.CharactersPresent, n.CharactersPresent)

	state := Unchanged
	if len(fd) > 0 || len(adds) > 0 || len(dels) > 0 {
		state = Modified
	}
	return SceneDiff{
		Title:      n.Title,
		State:      state,
		OldRange:   span(o),
		NewRange:   span(n),
		FieldDiffs: fd,
		CharAdd:    adds,
		CharDel:    dels,
	}
}

// overlap is the shared chunk count over the shorter span.
func overlap(a, b schema.Scene) float64 {
	lo := max(a.ChunkStartIndex, b.ChunkStartIndex)
	hi := min(a.ChunkEndIndex, b.ChunkEndIndex)
	if hi < lo {
		return 0
	}
	shorter := min(a.Span(), b.Span())
	if shorter <= 0 {
		return 0
	}
	return float64(hi-lo+1) / float64(shorter)
}

func span(s schema.Scene) [2]int { return [2]int{s.ChunkStartIndex, s.ChunkEndIndex} }

func rangeText(r [2]int) string { return fmt.Sprintf("%d-%d", r[0], r[1]) }

func position(d SceneDiff) int {
	if d.State == Removed {
		return d.OldRange[0]
	}
	return d.NewRange[0]
}

func diffNames(a, b []string) (adds, dels []string) {
	for _, s := range b {
		if !utils.ContainsFold(a, s) {
			adds = append(adds, s)
		}
	}
	for _, s := range a {
		if !utils.ContainsFold(b, s) {
			dels = append(dels, s)
		}
	}
	return
}

func strEq(a, b string) StringDiff {
	return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Insert, Text: b}}}
}

func strDiff(a, b string) StringDiff {
	if a == b {
		return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Equal, Text: a}}}
	}
	recs := difflib.Diff(utils.TokenizeWords(a), utils.TokenizeWords(b))
	deltas := make([]WordDelta, 0, len(recs))
	for _, r := range recs {
		switch r.Delta {
		case difflib.Common:
			deltas = append(deltas, WordDelta{Op: Equal, Text: r.Payload})
		case difflib.LeftOnly:
			deltas = append(deltas, WordDelta{Op: Delete, Text: r.Payload})
		case difflib.RightOnly:
			deltas = append(deltas, WordDelta{Op: Insert, Text: r.Payload})
		}
	}
	return StringDiff{Old: a, New: b, Deltas: coalesce(deltas)}
}

// coalesce merges runs of the same op. Whitespace that both sides share is
// folded into the current run.
func coalesce(in []WordDelta) []WordDelta {
	out := make([]WordDelta, 0, len(in))
	var (
		cur Op = -1
		buf strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, WordDelta{Op: cur, Text: buf.String()})
		buf.Reset()
	}
	for _, d := range in {
		if d.Op == Equal && strings.TrimSpace(d.Text) == "" && cur != -1 {
			buf.WriteString(d.Text)
			continue
		}
		if d.Op != cur {
			flush()
			cur = d.Op
		}
		buf.WriteString(d.Text)
	}
	flush()
	return out
}

const (
	ansiReset = "\x1b[0m"
	fgGreen   = "\x1b[32m"
	fgRed     = "\x1b[31m"
	fgYellow  = "\x1b[33m"
	fgCyan    = "\x1b[36m"
	faint     = "\x1b[2m"
	uline     = "\x1b[4m"
	strike    = "\x1b[9m"
)

var tags = map[ChangeType]string{
	Added:     fgGreen + "[+]" + ansiReset,
	Removed:   fgRed + "[-]" + ansiReset,
	Modified:  fgYellow + "[~]" + ansiReset,
	Unchanged: faint + "[=]" + ansiReset,
}

func (sd StringDiff) Render() string {
	var b strings.Builder
	for _, d := range sd.Deltas {
		switch d.Op {
		case Equal:
			b.WriteString(d.Text)
		case Insert:
			fmt.Fprintf(&b, "%s%s%s%s", fgGreen, uline, d.Text, ansiReset)
		case Delete:
			fmt.Fprintf(&b, "%s%s%s%s", fgRed, strike, d.Text, ansiReset)
		}
	}
	return b.String()
}

func (d ScenesDiff) Print(w io.Writer) {
	if len(d.Scenes) == 0 {
		return
	}
	fmt.Fprintln(w, fgCyan+"Scenes"+ansiReset)
	for _, s := range d.Scenes {
		r := s.NewRange
		if s.State == Removed {
			r = s.OldRange
		}
		fmt.Fprintf(w, "  %s %s %s(%s)%s\n", tags[s.State], s.Title, faint, rangeText(r), ansiReset)
		for _, f := range s.FieldDiffs {
			fmt.Fprintf(w, "    %s: %s\n", f.Path, f.Str.Render())
		}
		for _, c := range s.CharDel {
			fmt.Fprintf(w, "    character: %s%s%s%s\n", fgRed, strike, c, ansiReset)
		}
		for _, c := range s.CharAdd {
			fmt.Fprintf(w, "    character: %s%s%s%s\n", fgGreen, uline, c, ansiReset)
		}
	}
}
