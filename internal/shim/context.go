package shim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/t77yq/taskdog/internal/params"
)

// Context is the explicit accessor over the injected execution
// environment. It backs built-in integrations the same way the node
// preload backs user scripts: globals and parameters are plain maps, so
// arbitrary keys work, including non-ASCII ones.
type Context struct {
	apiURL    string
	client    *resty.Client
	globals   map[string]interface{}
	paramTree map[string]interface{}
	flat      map[string]string
}

// FromEnviron builds a Context from a process environment in "K=V" form.
func FromEnviron(environ []string) *Context {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	c := &Context{
		apiURL:    env[EnvAPIURL],
		client:    resty.New().SetTimeout(8 * time.Second),
		globals:   map[string]interface{}{},
		paramTree: map[string]interface{}{},
		flat:      map[string]string{},
	}

	if raw := env[EnvGlobalsJSON]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &c.globals)
	}
	if raw := env[EnvParamsJSON]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &c.paramTree)
	}
	for k, v := range env {
		if strings.HasPrefix(k, EnvParamPrefix) {
			c.flat[strings.TrimPrefix(k, EnvParamPrefix)] = v
		}
	}
	return c
}

// Global returns a global variable by its raw key, falling back to the
// sanitized environment form.
func (c *Context) Global(key string) (interface{}, bool) {
	if v, ok := c.globals[key]; ok {
		return v, true
	}
	for k, v := range c.globals {
		if params.SanitizeKey(k) == params.SanitizeKey(key) {
			return v, true
		}
	}
	return nil, false
}

// Param returns a resolved parameter, preferring the parameter tree and
// falling back to the per-key flattened environment variable. def is
// returned when the key is absent in both.
func (c *Context) Param(key string, def interface{}) interface{} {
	if v, ok := c.paramTree[key]; ok {
		return v
	}
	if v, ok := c.flat[params.SanitizeKey(key)]; ok {
		return v
	}
	return def
}

// RequireParam returns a resolved parameter or an error when absent.
func (c *Context) RequireParam(key string) (interface{}, error) {
	if v, ok := c.paramTree[key]; ok {
		return v, nil
	}
	if v, ok := c.flat[params.SanitizeKey(key)]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("required parameter %q not set", key)
}

// SetGlobal persists a global variable through the hosting API, then
// updates the local snapshot so subsequent reads in this execution see
// the new value.
func (c *Context) SetGlobal(ctx context.Context, key string, value interface{}, secret bool) error {
	if c.apiURL == "" {
		return fmt.Errorf("no API URL configured")
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"key": key, "value": value, "secret": secret}).
		Post(c.apiURL + "/api/config/globals/set")
	if err != nil {
		return fmt.Errorf("failed to persist global %q: %w", key, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to persist global %q: HTTP %d", key, resp.StatusCode())
	}
	c.globals[key] = value
	return nil
}

// Notify posts a notification through the hosting API's webhook fan-out.
func (c *Context) Notify(ctx context.Context, message interface{}, raw bool, oneOffURL string) error {
	if c.apiURL == "" {
		return fmt.Errorf("no API URL configured")
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"message": message,
			"options": map[string]interface{}{"raw": raw, "url": oneOffURL},
		}).
		Post(c.apiURL + "/api/notify")
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to send notification: HTTP %d", resp.StatusCode())
	}
	return nil
}
