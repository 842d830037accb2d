// Package naming implements the tool naming scheme shared by the dispatch
// pipeline and the provider services. Agents only ever see opaque tool names
// of the form "{hash}_{snake_function}" (external tools) or "cubicler_*"
// (internal tools); these pure functions convert between that form and the
// server identifiers the rest of the broker works with.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// InternalPrefix is the reserved prefix for broker-provided tools.
const InternalPrefix = "cubicler_"

// HashLength is the length of the opaque server token embedded in external
// tool names.
const HashLength = 6

// Kind distinguishes internal broker tools from tools owned by a backend
// server.
type Kind int

const (
	KindInternal Kind = iota
	KindExternal
)

// ParsedTool is the result of parsing an agent-visible tool name.
type ParsedTool struct {
	Kind     Kind
	Name     string // full name for internal tools
	Token    string // 6-char server hash for external tools
	Function string // snake_case function name for external tools
}

// ServerHash derives the stable 6-character token for a server from its
// identifier and endpoint hint (URL or command). The same inputs always
// produce the same token.
func ServerHash(identifier, endpointHint string) string {
	sum := sha256.Sum256([]byte(identifier + "|" + endpointHint))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Snake converts a human identifier to snake_case. It is idempotent:
// Snake(Snake(x)) == Snake(x).
func Snake(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	prevUnderscore := false
	prevLowerOrDigit := false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			if prevLowerOrDigit {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevUnderscore = false
			prevLowerOrDigit = false
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevUnderscore = false
			prevLowerOrDigit = true
		default:
			// Separators (spaces, dashes, dots) collapse to single underscores.
			if !prevUnderscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			prevUnderscore = true
			prevLowerOrDigit = false
		}
	}

	return strings.Trim(b.String(), "_")
}

// ToolName builds the agent-visible name for a server function.
func ToolName(token, function string) string {
	return token + "_" + Snake(function)
}

// InternalToolName builds the agent-visible name for an internal tool.
func InternalToolName(name string) string {
	return InternalPrefix + Snake(name)
}

// Parse splits an agent-visible tool name into its components. Internal
// names pass through whole; external names must carry a 6-character token
// before the first underscore.
func Parse(name string) (ParsedTool, error) {
	if strings.HasPrefix(name, InternalPrefix) {
		return ParsedTool{Kind: KindInternal, Name: name}, nil
	}

	idx := strings.Index(name, "_")
	if idx < 0 {
		return ParsedTool{}, fmt.Errorf("%w: %q has no separator", ErrMalformedToolName, name)
	}
	token := name[:idx]
	if len(token) != HashLength {
		return ParsedTool{}, fmt.Errorf("%w: %q token must be %d characters", ErrMalformedToolName, name, HashLength)
	}
	function := name[idx+1:]
	if function == "" {
		return ParsedTool{}, fmt.Errorf("%w: %q has empty function", ErrMalformedToolName, name)
	}

	return ParsedTool{Kind: KindExternal, Token: token, Function: function}, nil
}

// IsInternal reports whether the name uses the reserved internal prefix.
func IsInternal(name string) bool {
	return strings.HasPrefix(name, InternalPrefix)
}
