// Package qs encodes and decodes the query strings exchanged with the
// Dailymotion endpoints: API parameters, OAuth redirect fragments, the session
// cookie and legacy player messages.
package qs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Values is the decoded form of a query string. Keys written as "key[]" are
// collected under "key".
type Values = url.Values

// Encode encodes params into a sorted, &-separated query string.
// Nil values are skipped and slices are written as repeated "key[]" pairs.
func Encode(params map[string]any) string {
	return EncodeWith(params, "&", true)
}

// EncodeWith is Encode with a custom separator. When escape is false keys and
// values are written verbatim.
func EncodeWith(params map[string]any, sep string, escape bool) string {
	enc := escapeComponent
	if !escape {
		enc = func(s string) string { return s }
	}

	pairs := make([]string, 0, len(params))
	for key, val := range params {
		if val == nil {
			continue
		}
		if list, ok := stringList(val); ok {
			for _, item := range list {
				pairs = append(pairs, enc(key+"[]")+"="+enc(item))
			}
			continue
		}
		pairs = append(pairs, enc(key)+"="+enc(Format(val)))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, sep)
}

// Decode parses a query string. A "+" decodes to a space, empty keys are
// ignored and malformed escapes are kept as written.
func Decode(s string) Values {
	params := Values{}
	if s == "" {
		return params
	}

	for _, part := range strings.Split(s, "&") {
		rawKey, rawVal, _ := strings.Cut(part, "=")
		if rawKey == "" {
			continue
		}
		key := unescapeComponent(rawKey)
		val := unescapeComponent(strings.ReplaceAll(rawVal, "+", "%20"))
		if strings.HasSuffix(key, "[]") {
			key = strings.TrimSuffix(key, "[]")
			params[key] = append(params[key], val)
			continue
		}
		params.Set(key, val)
	}
	return params
}

// Flatten converts a parameter map into string values. Scalars are formatted
// directly; maps and slices of non-strings are JSON encoded.
func Flatten(params map[string]any) map[string]any {
	flat := make(map[string]any, len(params))
	for key, val := range params {
		if val == nil {
			continue
		}
		if list, ok := stringList(val); ok {
			flat[key] = list
			continue
		}
		flat[key] = Format(val)
	}
	return flat
}

// Format renders a single parameter value.
func Format(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Sprint(val)
	}
	return string(b)
}

func stringList(val any) ([]string, bool) {
	switch v := val.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// escapeComponent matches encodeURIComponent closely enough for the API:
// spaces become %20 rather than "+".
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func unescapeComponent(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}
