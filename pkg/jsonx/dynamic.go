// Package jsonx converts loosely shaped tool-call output into JSON objects.
package jsonx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// ErrNotObjectArray is returned when a payload cannot be read as an array of
// JSON objects.
var ErrNotObjectArray = errors.New("jsonx: not an array of objects")

// ToDynamicJSON converts any value into a map by round-tripping it through
// JSON.
func ToDynamicJSON(val any) (map[string]any, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any)
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ToObjectArray normalizes a tool-call argument into a list of objects.
// Slices are converted element by element, a single object is wrapped,
// and strings go through ParseUncleanArray.
func ToObjectArray(v any) ([]map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty value", ErrNotObjectArray)
	case string:
		return ParseUncleanArray(val)
	case []map[string]any:
		return val, nil
	case map[string]any:
		return []map[string]any{val}, nil
	case []any:
		out := make([]map[string]any, 0, len(val))
		for i, elem := range val {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrNotObjectArray, i, elem)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotObjectArray, err)
		}
		return ParseUncleanArray(string(b))
	}
}

// ParseUncleanArray reads an array of objects out of text produced by a
// model: it tolerates surrounding code fences, a JSON string wrapping the
// array, escaped quotes, and a single bare object.
func ParseUncleanArray(s string) ([]map[string]any, error) {
	s = StripFences(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNotObjectArray)
	}

	for _, candidate := range candidates(s) {
		if !gjson.Valid(candidate) {
			continue
		}
		res := gjson.Parse(candidate)
		switch {
		case res.IsArray():
			return decodeArray(res)
		case res.IsObject():
			return decodeArray(gjson.Parse("[" + candidate + "]"))
		case res.Type == gjson.String && res.Str != candidate:
			if nested, err := ParseUncleanArray(res.Str); err == nil {
				return nested, nil
			}
		}
	}
	return nil, ErrNotObjectArray
}

func candidates(s string) []string {
	out := []string{s}
	if unq, err := strconv.Unquote(s); err == nil {
		out = append(out, unq)
	}
	if strings.Contains(s, `\"`) {
		out = append(out, strings.ReplaceAll(s, `\"`, `"`))
	}
	return out
}

func decodeArray(res gjson.Result) ([]map[string]any, error) {
	var out []map[string]any
	var err error
	res.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			err = fmt.Errorf("%w: element is %s", ErrNotObjectArray, value.Type)
			return false
		}
		m, ok := value.Value().(map[string]any)
		if !ok {
			err = ErrNotObjectArray
			return false
		}
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// StripFences trims whitespace and a surrounding markdown code fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
