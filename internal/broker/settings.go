package broker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cubicler/cubicler/pkg/logging"
)

// Settings is the broker's environment-driven configuration. Sources are
// file paths or HTTP(S) URLs.
type Settings struct {
	Port            int
	AgentsSource    string
	ProvidersSource string
	WebhooksSource  string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AgentTimeout       time.Duration
	McpTimeout         time.Duration
	SSEOpenTimeout     time.Duration
	SSEResponseTimeout time.Duration

	StdioMaxPool      int
	StdioMaxIdle      time.Duration
	StdioQueueTimeout time.Duration
	StdioQueueSize    int

	ConfigTTL     time.Duration
	ConfigTimeout time.Duration
	StrictParams  bool

	LogLevel  slog.Level
	LogFormat logging.LogFormat
	LogFile   string
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Port:               1503,
		AgentTimeout:       90 * time.Second,
		McpTimeout:         30 * time.Second,
		SSEOpenTimeout:     2 * time.Second,
		SSEResponseTimeout: 300 * time.Second,
		StdioMaxPool:       4,
		StdioMaxIdle:       300 * time.Second,
		StdioQueueTimeout:  30 * time.Second,
		StdioQueueSize:     100,
		ConfigTTL:          60 * time.Second,
		ConfigTimeout:      10 * time.Second,
		LogLevel:           slog.LevelInfo,
		LogFormat:          logging.FormatJSON,
	}
}

// SettingsFromEnv reads CUBICLER_* variables over the defaults.
// CUBICLER_AGENTS_SOURCE and CUBICLER_PROVIDERS_SOURCE are required.
func SettingsFromEnv() (Settings, error) {
	s := DefaultSettings()

	s.AgentsSource = os.Getenv("CUBICLER_AGENTS_SOURCE")
	if s.AgentsSource == "" {
		return s, fmt.Errorf("CUBICLER_AGENTS_SOURCE is required")
	}
	s.ProvidersSource = os.Getenv("CUBICLER_PROVIDERS_SOURCE")
	if s.ProvidersSource == "" {
		return s, fmt.Errorf("CUBICLER_PROVIDERS_SOURCE is required")
	}
	s.WebhooksSource = os.Getenv("CUBICLER_WEBHOOKS_SOURCE")

	s.JWTSecret = os.Getenv("CUBICLER_JWT_SECRET")
	s.JWTIssuer = os.Getenv("CUBICLER_JWT_ISSUER")
	s.JWTAudience = os.Getenv("CUBICLER_JWT_AUDIENCE")
	s.LogFile = os.Getenv("CUBICLER_LOG_FILE")

	var err error
	if s.Port, err = envInt("CUBICLER_PORT", s.Port); err != nil {
		return s, err
	}
	if s.AgentTimeout, err = envSeconds("CUBICLER_AGENT_TIMEOUT", s.AgentTimeout); err != nil {
		return s, err
	}
	if s.McpTimeout, err = envSeconds("CUBICLER_MCP_TIMEOUT", s.McpTimeout); err != nil {
		return s, err
	}
	if s.SSEOpenTimeout, err = envSeconds("CUBICLER_SSE_OPEN_TIMEOUT", s.SSEOpenTimeout); err != nil {
		return s, err
	}
	if s.SSEResponseTimeout, err = envSeconds("CUBICLER_SSE_RESPONSE_TIMEOUT", s.SSEResponseTimeout); err != nil {
		return s, err
	}
	if s.StdioMaxPool, err = envInt("CUBICLER_STDIO_MAX_POOL", s.StdioMaxPool); err != nil {
		return s, err
	}
	if s.StdioMaxIdle, err = envSeconds("CUBICLER_STDIO_MAX_IDLE", s.StdioMaxIdle); err != nil {
		return s, err
	}
	if s.StdioQueueTimeout, err = envSeconds("CUBICLER_STDIO_QUEUE_TIMEOUT", s.StdioQueueTimeout); err != nil {
		return s, err
	}
	if s.StdioQueueSize, err = envInt("CUBICLER_STDIO_QUEUE_SIZE", s.StdioQueueSize); err != nil {
		return s, err
	}
	if s.ConfigTTL, err = envSeconds("CUBICLER_CONFIG_TTL", s.ConfigTTL); err != nil {
		return s, err
	}
	if s.ConfigTimeout, err = envSeconds("CUBICLER_CONFIG_TIMEOUT", s.ConfigTimeout); err != nil {
		return s, err
	}
	if s.StrictParams, err = envBool("CUBICLER_STRICT_PARAMS", false); err != nil {
		return s, err
	}

	if raw := os.Getenv("CUBICLER_LOG_LEVEL"); raw != "" {
		if err := s.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return s, fmt.Errorf("CUBICLER_LOG_LEVEL: %w", err)
		}
	}
	if raw := os.Getenv("CUBICLER_LOG_FORMAT"); raw != "" {
		switch strings.ToLower(raw) {
		case "json":
			s.LogFormat = logging.FormatJSON
		case "text":
			s.LogFormat = logging.FormatText
		default:
			return s, fmt.Errorf("CUBICLER_LOG_FORMAT: unknown format %q", raw)
		}
	}

	return s, nil
}

func envInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// envSeconds accepts a bare integer (seconds) or a Go duration string.
func envSeconds(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
