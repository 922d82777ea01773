// Package runtime builds the process environment handed to child-process
// script executions: expanded global variables, the shim JSON blobs, and
// the resolved, flattened task parameters.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/params"
	"github.com/t77yq/taskdog/internal/shim"
)

// maxExpandPasses bounds placeholder substitution. Cyclic references
// stabilize or stop after this many passes instead of looping.
const maxExpandPasses = 5

var (
	bracedRef  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	bareRef    = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	percentRef = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)
)

// BuilderConfig configures environment construction.
type BuilderConfig struct {
	// InheritSystemEnv seeds the environment from the host process when set.
	InheritSystemEnv bool

	// APIBaseURL is handed to scripts for shim callbacks. Defaults to
	// loopback plus the server's bound port.
	APIBaseURL string
}

// GlobalSource yields a fresh copy of the global variables.
type GlobalSource interface {
	All(ctx context.Context) ([]model.GlobalVariable, error)
}

// Builder constructs child-process environments.
type Builder struct {
	logger  *zap.Logger
	globals GlobalSource
	config  BuilderConfig
}

// NewBuilder creates an environment builder.
func NewBuilder(logger *zap.Logger, globals GlobalSource, config BuilderConfig) *Builder {
	return &Builder{
		logger:  logger.Named("environment"),
		globals: globals,
		config:  config,
	}
}

// Build assembles the full environment for one script execution. The
// globals snapshot is read fresh on every call, so variables written by an
// earlier run are visible to the next one.
func (b *Builder) Build(ctx context.Context, resolvedParams model.Params) (map[string]string, error) {
	globals, err := b.globals.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load global variables: %w", err)
	}
	return b.BuildFrom(globals, resolvedParams)
}

// BuildFrom assembles the environment from an already-loaded globals
// snapshot, for callers that need the same snapshot for parameter
// reference resolution.
func (b *Builder) BuildFrom(globals []model.GlobalVariable, resolvedParams model.Params) (map[string]string, error) {
	env := make(map[string]string)
	if b.config.InheritSystemEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				env[kv[:i]] = kv[i+1:]
			}
		}
	}

	rawKV := make(map[string]interface{}, len(globals))
	for _, g := range globals {
		rawKV[g.Key] = g.Value
	}

	lookup := func(name string) (string, bool) {
		if v, ok := env[name]; ok {
			return v, true
		}
		if v, ok := rawKV[name]; ok {
			if s, isStr := v.(string); isStr {
				return s, true
			}
			return params.Stringify(v), true
		}
		return "", false
	}

	for _, g := range globals {
		expanded := expandValue(g.Value, lookup)
		key := params.SanitizeKey(g.Key)
		if s, ok := expanded.(string); ok {
			env[key] = s
		} else {
			env[key] = params.Stringify(expanded)
		}
	}

	globalsJSON, err := json.Marshal(rawKV)
	if err != nil {
		return nil, fmt.Errorf("failed to encode globals blob: %w", err)
	}
	env[shim.EnvGlobalsJSON] = string(globalsJSON)

	if resolvedParams != nil {
		paramsJSON, err := json.Marshal(resolvedParams)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params blob: %w", err)
		}
		env[shim.EnvParamsJSON] = string(paramsJSON)
		for k, v := range params.Flatten(resolvedParams) {
			env[shim.EnvParamPrefix+k] = v
		}
	}

	env[shim.EnvAPIURL] = b.config.APIBaseURL
	return env, nil
}

// expandValue expands placeholders in every string leaf of a global value.
// Objects and arrays keep their shape.
func expandValue(v interface{}, lookup func(string) (string, bool)) interface{} {
	switch val := v.(type) {
	case string:
		return ExpandString(val, lookup)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = expandValue(item, lookup)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = expandValue(item, lookup)
		}
		return out
	default:
		return v
	}
}

// ExpandString substitutes ${VAR}, word-boundary $VAR, and %VAR%
// references, and expands a leading ~ to the home directory. Substitution
// repeats until stable, bounded at maxExpandPasses so cyclic references
// terminate. Unresolvable references are left in place.
func ExpandString(s string, lookup func(string) (string, bool)) string {
	for pass := 0; pass < maxExpandPasses; pass++ {
		next := expandOnce(s, lookup)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func expandOnce(s string, lookup func(string) (string, bool)) string {
	if s == "~" || strings.HasPrefix(s, "~/") || strings.HasPrefix(s, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}

	replace := func(re *regexp.Regexp, in string) string {
		return re.ReplaceAllStringFunc(in, func(match string) string {
			name := re.FindStringSubmatch(match)[1]
			if v, ok := lookup(name); ok {
				return v
			}
			return match
		})
	}

	s = replace(bracedRef, s)
	s = replace(percentRef, s)
	// Bare $VAR last so it cannot eat the brace form. The identifier match
	// is maximal, which gives the word-boundary behavior: $HOST never
	// matches inside $HOSTNAME.
	s = replace(bareRef, s)
	return s
}
