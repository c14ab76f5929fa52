package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/raine/dailymotion-go/qs"
)

// Params are the parameters of an API call. Besides plain values two keys are
// special:
//
//	fields       []string or a comma-separated string
//	subrequests  map of sub-resource name to its parameters, compiled into
//	             fields as name.fields(a,b).param(value)
type Params map[string]any

// formatParams returns a copy of params with fields normalized to a string and
// subrequests compiled into it.
func formatParams(params Params) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for key, val := range params {
		if key == "fields" || key == "subrequests" {
			continue
		}
		out[key] = val
	}

	var fields string
	if raw, ok := params["fields"]; ok && raw != nil {
		f, err := joinFields(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: fields: %v", ErrInvalidArgument, err)
		}
		fields = f
	}

	if raw, ok := params["subrequests"]; ok && raw != nil {
		compiled, err := compileSubrequests(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: subrequests: %v", ErrInvalidArgument, err)
		}
		if compiled != "" {
			if fields != "" {
				fields += ","
			}
			fields += compiled
		}
	}

	if fields != "" {
		out["fields"] = fields
	}
	return out, nil
}

func joinFields(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, ","), nil
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("unexpected %T in list", item)
			}
			list = append(list, s)
		}
		return strings.Join(list, ","), nil
	}
	return "", fmt.Errorf("unexpected type %T", raw)
}

func compileSubrequests(raw any) (string, error) {
	subs := map[string]map[string]any{}
	switch v := raw.(type) {
	case map[string]map[string]any:
		subs = v
	case map[string]Params:
		for name, p := range v {
			subs[name] = p
		}
	case Params:
		return compileSubrequests(map[string]any(v))
	case map[string]any:
		for name, p := range v {
			switch props := p.(type) {
			case map[string]any:
				subs[name] = props
			case Params:
				subs[name] = props
			default:
				return "", fmt.Errorf("sub-resource %q: unexpected type %T", name, p)
			}
		}
	default:
		return "", fmt.Errorf("unexpected type %T", raw)
	}

	names := sortedKeys(subs)
	fragments := make([]string, 0, len(names))
	for _, name := range names {
		props := subs[name]
		parts := []string{name}
		if f, ok := props["fields"]; ok && f != nil {
			fields, err := joinFields(f)
			if err != nil {
				return "", fmt.Errorf("sub-resource %q fields: %v", name, err)
			}
			parts = append(parts, "fields("+fields+")")
		}
		for _, key := range sortedKeys(props) {
			if key == "fields" || props[key] == nil {
				continue
			}
			parts = append(parts, key+"("+subrequestValue(props[key])+")")
		}
		fragments = append(fragments, strings.Join(parts, "."))
	}
	return strings.Join(fragments, ","), nil
}

func subrequestValue(val any) string {
	if s, err := joinFields(val); err == nil {
		return s
	}
	return qs.Format(val)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
