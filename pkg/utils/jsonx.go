package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no JSON value found in model output")

// CleanJSON removes markdown code blocks from a string to extract raw JSON.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) >= 2 {
			if strings.HasPrefix(lines[0], "```") {
				lines = lines[1:]
			}
			if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
				lines = lines[:len(lines)-1]
			}
			s = strings.Join(lines, "\n")
		} else {
			s = strings.Trim(s, "`")
		}
	}
	return strings.TrimSpace(s)
}

// ExtractJSON strips reasoning blocks and code fences, then trims any prose
// around the outermost JSON object or array.
func ExtractJSON(out string) (string, error) {
	if strings.Contains(out, "<think>") {
		if idx := strings.LastIndex(out, "</think>"); idx != -1 {
			out = out[idx+len("</think>"):]
		}
	}
	out = CleanJSON(out)
	if out == "" {
		return "", ErrNoJSON
	}

	start := strings.IndexAny(out, "[{")
	if start == -1 {
		return "", ErrNoJSON
	}
	closer := byte('}')
	if out[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(out, closer)
	if end < start {
		return "", ErrNoJSON
	}
	return out[start : end+1], nil
}

// DecodeItems parses model output that should be a JSON array, or an object
// wrapping the array under one of keys. Items are returned raw so a single
// malformed element can be replaced without discarding its siblings.
func DecodeItems(out string, keys ...string) ([]json.RawMessage, error) {
	raw, err := ExtractJSON(out)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, &items); err != nil {
			return nil, fmt.Errorf("decode %q: %w", k, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("expected array or object with one of %v", keys)
}
