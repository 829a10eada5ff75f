package errs

import (
	"sort"
	"time"
)

// ErrorContext carries the structured detail attached to a ProcessingError.
// It is mutated in place as the error travels through retries and recovery.
type ErrorContext struct {
	Operation  string         `json:"operation"`
	Component  string         `json:"component"`
	Timestamp  time.Time      `json:"timestamp"`
	FilePath   string         `json:"file_path,omitempty"`
	EngineName string         `json:"engine_name,omitempty"`
	URL        string         `json:"url,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewContext returns a context stamped with the current time.
func NewContext(operation, component string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		Component: component,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// Update merges kv into the context. Keys naming a known field overwrite it
// when the value has the right type; everything else lands in Metadata.
func (c *ErrorContext) Update(kv map[string]any) *ErrorContext {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	for k, v := range kv {
		if !c.setField(k, v) {
			c.Metadata[k] = v
		}
	}
	return c
}

// Set is Update for a single pair.
func (c *ErrorContext) Set(key string, value any) *ErrorContext {
	return c.Update(map[string]any{key: value})
}

func (c *ErrorContext) setField(key string, v any) bool {
	switch key {
	case "operation":
		s, ok := v.(string)
		if ok {
			c.Operation = s
		}
		return ok
	case "component":
		s, ok := v.(string)
		if ok {
			c.Component = s
		}
		return ok
	case "file_path":
		s, ok := v.(string)
		if ok {
			c.FilePath = s
		}
		return ok
	case "engine_name":
		s, ok := v.(string)
		if ok {
			c.EngineName = s
		}
		return ok
	case "url":
		s, ok := v.(string)
		if ok {
			c.URL = s
		}
		return ok
	case "status_code":
		n, ok := v.(int)
		if ok {
			c.StatusCode = n
		}
		return ok
	case "retry_count":
		n, ok := v.(int)
		if ok {
			c.RetryCount = n
		}
		return ok
	case "max_retries":
		n, ok := v.(int)
		if ok {
			c.MaxRetries = n
		}
		return ok
	}
	return false
}

// Attrs flattens the context into slog key/value pairs, skipping empty fields.
// Metadata keys are emitted in sorted order.
func (c *ErrorContext) Attrs() []any {
	if c == nil {
		return nil
	}
	out := make([]any, 0, 16)
	add := func(k string, v any) { out = append(out, k, v) }

	if c.Operation != "" {
		add("operation", c.Operation)
	}
	if c.Component != "" {
		add("component", c.Component)
	}
	if !c.Timestamp.IsZero() {
		add("timestamp", c.Timestamp.Format(time.RFC3339Nano))
	}
	if c.FilePath != "" {
		add("file_path", c.FilePath)
	}
	if c.EngineName != "" {
		add("engine_name", c.EngineName)
	}
	if c.URL != "" {
		add("url", c.URL)
	}
	if c.StatusCode != 0 {
		add("status_code", c.StatusCode)
	}
	if c.RetryCount != 0 {
		add("retry_count", c.RetryCount)
	}
	if c.MaxRetries != 0 {
		add("max_retries", c.MaxRetries)
	}

	keys := make([]string, 0, len(c.Metadata))
	for k, v := range c.Metadata {
		if isEmpty(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, c.Metadata[k])
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case bool:
		return !t
	case []string:
		return len(t) == 0
	}
	return false
}

// clone returns a deep-enough copy for dumps.
func (c *ErrorContext) clone() *ErrorContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
