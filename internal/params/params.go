// Package params implements the parameter layering used for script
// executions: script defaults merged with task overrides, global-variable
// references resolved, and the result flattened into environment-safe keys.
package params

import (
	"encoding/json"
	"strings"

	"github.com/t77yq/taskdog/internal/model"
)

const globalRefPrefix = "$TD:"

// DeepMerge merges override into base recursively. Where both sides hold
// nested objects the merge recurses; any other override value replaces the
// base value entirely, including replacing an object with a scalar or array.
// Neither input is mutated.
func DeepMerge(base, override model.Params) model.Params {
	if base == nil && override == nil {
		return model.Params{}
	}
	out := make(model.Params, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		bm, bok := asObject(out[k])
		om, ook := asObject(v)
		if bok && ook {
			out[k] = map[string]interface{}(DeepMerge(bm, om))
			continue
		}
		out[k] = v
	}
	return out
}

// ResolveReferences walks v and replaces global-variable references with
// their values. A string exactly matching "$TD:<KEY>" resolves to
// globals[KEY], and an object with the single key "$global" likewise;
// missing keys resolve to nil. Everything else passes through, with arrays
// and nested objects recursed into.
func ResolveReferences(v interface{}, globals map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, globalRefPrefix) {
			return globals[val[len(globalRefPrefix):]]
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = ResolveReferences(item, globals)
		}
		return out
	case model.Params:
		return ResolveReferences(map[string]interface{}(val), globals)
	case map[string]interface{}:
		if len(val) == 1 {
			if key, ok := val["$global"].(string); ok {
				return globals[key]
			}
		}
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = ResolveReferences(item, globals)
		}
		return out
	default:
		return v
	}
}

// Resolve merges the two parameter layers and resolves references against
// the given globals snapshot.
func Resolve(base, override model.Params, globals map[string]interface{}) model.Params {
	merged := DeepMerge(base, override)
	resolved, _ := ResolveReferences(map[string]interface{}(merged), globals).(map[string]interface{})
	return resolved
}

// Flatten produces environment-variable-safe keys from a nested parameter
// tree: nested key paths joined with "_", uppercased, with any character
// outside [A-Za-z0-9_] replaced by "_". Non-string leaves are JSON-encoded.
func Flatten(p model.Params) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", map[string]interface{}(p))
	return out
}

func flattenInto(out map[string]string, prefix string, v interface{}) {
	if obj, ok := asObject(v); ok {
		for k, item := range obj {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			flattenInto(out, key, item)
		}
		return
	}
	if prefix == "" {
		return
	}
	out[SanitizeKey(prefix)] = Stringify(v)
}

// SanitizeKey normalizes a key for environment injection: uppercase with
// non [A-Za-z0-9_] characters replaced by underscores.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Stringify renders a leaf value for the environment: strings pass through,
// everything else is JSON-encoded.
func Stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch obj := v.(type) {
	case map[string]interface{}:
		return obj, true
	case model.Params:
		return obj, true
	default:
		return nil, false
	}
}
