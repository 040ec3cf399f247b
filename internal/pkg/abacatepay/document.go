package abacatepay

import (
	"encoding/json"
	"strconv"
	"strings"
)

// unwrap returns doc["data"] when it is an object, doc otherwise.
func unwrap(doc map[string]any) map[string]any {
	if inner, ok := doc["data"].(map[string]any); ok {
		return inner
	}
	return doc
}

// field resolves a dotted path ("pix.qrcode") inside nested objects.
func field(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// firstString returns the first non-empty string or number among paths.
func firstString(doc map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := field(doc, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case json.Number:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

// stringsAt collects the string values found at paths, skipping non-strings.
func stringsAt(doc map[string]any, paths ...string) []string {
	var out []string
	for _, p := range paths {
		if v, ok := field(doc, p); ok {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func firstNumber(doc map[string]any, paths ...string) (int64, bool) {
	for _, p := range paths {
		v, ok := field(doc, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, true
			}
			if f, err := t.Float64(); err == nil {
				return int64(f), true
			}
		case float64:
			return int64(t), true
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
