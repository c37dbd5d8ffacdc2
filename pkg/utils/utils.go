package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"inkwell/pkg/pool"
)

// ErrJSON produces a standard JSON error response.
func ErrJSON(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
	}
}

// PrettyJSON marshals with indentation.
func PrettyJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

// rowPool holds the single DP row used by Levenshtein.
var rowPool = pool.New(func() *[]int {
	row := make([]int, 0, 64)
	return &row
})

// Levenshtein returns the rune edit distance between a and b.
func Levenshtein(a, b string) int {
	long, short := []rune(a), []rune(b)
	if len(short) > len(long) {
		long, short = short, long
	}
	if len(short) == 0 {
		return len(long)
	}

	rp := rowPool.Get()
	defer rowPool.Put(rp)
	row := slices.Grow((*rp)[:0], len(short)+1)[:len(short)+1]
	for j := range row {
		row[j] = j
	}
	for i, lr := range long {
		diag := row[0]
		row[0] = i + 1
		for j, sr := range short {
			up := row[j+1]
			cost := 1
			if lr == sr {
				cost = 0
			}
			row[j+1] = min(up+1, row[j]+1, diag+cost)
			diag = up
		}
	}
	*rp = row
	return row[len(short)]
}

// Similarity returns a float between 0 and 1 (1 = identical).
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" && b == "" {
		return 1.0
	}
	dist := Levenshtein(a, b)
	maxLen := float64(max(utf8.RuneCountInString(a), utf8.RuneCountInString(b)))
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(dist)/maxLen
}

var paragraphRX = regexp.MustCompile(`\n\s*\n`)

// ChunkText packs paragraphs into chunks of at most limit runes. Paragraphs
// that do not fit are packed word by word; a word longer than limit is cut.
func ChunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil
	}
	if runeLen(text) <= limit {
		return []string{text}
	}

	var out []string
	var cur strings.Builder
	n := 0
	add := func(piece, sep string) {
		size := runeLen(piece)
		if n > 0 && n+runeLen(sep)+size > limit {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
		if n > 0 {
			cur.WriteString(sep)
			n += runeLen(sep)
		}
		cur.WriteString(piece)
		n += size
	}

	for _, para := range paragraphRX.Split(text, -1) {
		para = strings.TrimSpace(para)
		switch {
		case para == "":
		case runeLen(para) <= limit:
			add(para, "\n\n")
		default:
			sep := "\n\n"
			for _, w := range strings.Fields(para) {
				for runeLen(w) > limit {
					cut := byteIndexAtRunePos(w, limit)
					add(w[:cut], sep)
					w = w[cut:]
					sep = " "
				}
				add(w, sep)
				sep = " "
			}
		}
	}
	if n > 0 {
		out = append(out, cur.String())
	}
	return out
}

func byteIndexAtRunePos(s string, pos int) int {
	if pos <= 0 {
		return 0
	}
	i := 0
	for pos > 0 && i < len(s) {
		_, sz := utf8.DecodeRuneInString(s[i:])
		i += sz
		pos--
	}
	return i
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// SSEWriter streams numbered server-sent events. It is safe for concurrent use.
type SSEWriter struct {
	mu   sync.Mutex
	ctx  context.Context
	w    http.ResponseWriter
	fl   http.Flusher
	seq  int
	done bool
}

var ErrNotFlushable = errors.New("sse: response writer is not flushable")

// NewSSEWriter writes the event-stream headers and returns a writer bound to
// the request's lifetime.
func NewSSEWriter(c echo.Context) (*SSEWriter, error) {
	res := c.Response()
	f, ok := res.Writer.(http.Flusher)
	if !ok {
		return nil, ErrNotFlushable
	}

	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	f.Flush()

	return &SSEWriter{ctx: c.Request().Context(), w: res, fl: f}, nil
}

// Event sends data under the event name. Strings are sent as is, anything
// else as JSON. Events after Close, or after the client went away, are dropped.
func (s *SSEWriter) Event(event string, data any) error {
	payload, ok := data.(string)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, payload); err != nil {
		return err
	}
	s.fl.Flush()
	return nil
}

// Close sends the final close event once.
func (s *SSEWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	fmt.Fprint(s.w, "event: close\ndata: null\n\n")
	s.fl.Flush()
}

// LimitStr returns a string truncated to n runes with "..." appended if longer.
func LimitStr(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	return s[:byteIndexAtRunePos(s, n)] + "..."
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	return s[:byteIndexAtRunePos(s, n)]
}

// SyncMap is a map guarded by an RWMutex.
type SyncMap[M ~map[K]V, K comparable, V any] struct {
	mu   sync.RWMutex
	data M
}

func NewSyncMap[M ~map[K]V, K comparable, V any]() *SyncMap[M, K, V] {
	return &SyncMap[M, K, V]{
		data: make(M),
	}
}

func (m *SyncMap[M, K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores value and reports loaded=false.
func (m *SyncMap[M, K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, true
	}
	m.data[key] = value
	return value, false
}

func (m *SyncMap[M, K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// SanitizeFilename replaces path separators and drive colons with underscores.
func SanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.TrimSpace(s)
	return s
}

// StringContains checks if s contains any of the substrings in substr.
// An empty substring matches only an empty string. Set sensitive to true for case-sensitive match.
func StringContains(s string, sensitive bool, substr ...string) bool {
	if !sensitive {
		s = strings.ToLower(s)
	}
	for _, sub := range substr {
		if sub == "" && s == "" {
			return true
		}
		if !sensitive {
			sub = strings.ToLower(sub)
		}
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
