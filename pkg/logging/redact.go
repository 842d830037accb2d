package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// Patterns that match sensitive values in log output. Each pattern keeps the
// prefix capture group (e.g. "Bearer ") and replaces only the secret value.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(Authorization:\s*)\S+(\s+\S+)?`),
	regexp.MustCompile(`(?i)(Bearer\s+)\S+`),
	regexp.MustCompile(`(?i)((?:password|passwd|secret|api[_-]?key|token|credentials?)\s*[=:]\s*)\S+`),
}

// RedactingHandler scrubs secret-looking values from records before
// forwarding them to an inner handler. Agent and provider configs carry
// bearer tokens and signing secrets, which must never reach log output.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps an inner handler with secret redaction.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive values in the record before forwarding.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs returns a new handler with redacted persistent attributes.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, RedactString(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]any, len(attrs))
		for i, ga := range attrs {
			redacted[i] = redactAttr(ga)
		}
		return slog.Group(a.Key, redacted...)
	case slog.KindAny:
		return redactAnyAttr(a)
	default:
		return a
	}
}

// redactAnyAttr handles KindAny values like []string (command arguments),
// maps (subprocess environments), and errors.
func redactAnyAttr(a slog.Attr) slog.Attr {
	switch val := a.Value.Any().(type) {
	case []string:
		redacted := make([]string, len(val))
		for i, s := range val {
			redacted[i] = RedactString(s)
		}
		return slog.Any(a.Key, redacted)
	case map[string]string:
		return slog.Any(a.Key, RedactEnv(val))
	case error:
		return slog.String(a.Key, RedactString(val.Error()))
	default:
		return a
	}
}

// RedactString applies the redaction patterns to a string. Use this for
// secrets in non-slog output, e.g. error payloads echoed to clients.
func RedactString(s string) string {
	for _, p := range redactPatterns {
		s = p.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}

// RedactEnv returns a copy of the env map with values of secret-looking
// keys replaced by [REDACTED].
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	redacted := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitiveKey(k) {
			redacted[k] = "[REDACTED]"
		} else {
			redacted[k] = RedactString(v)
		}
	}
	return redacted
}

var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|credential|auth|api[_-]?key)`)

func isSensitiveKey(key string) bool {
	return sensitiveKeyPattern.MatchString(strings.ToLower(key))
}
