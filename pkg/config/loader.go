package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// DefaultFetchTimeout bounds one remote config fetch.
const DefaultFetchTimeout = 10 * time.Second

var envPlaceholder = regexp.MustCompile(`\{\{env\.([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Loader fetches configuration documents from file paths or HTTP(S) URLs.
type Loader struct {
	httpClient *http.Client
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with the given fetch timeout (zero means
// DefaultFetchTimeout).
func NewLoader(timeout time.Duration) *Loader {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Loader{
		httpClient: &http.Client{Timeout: timeout},
		lookupEnv:  os.LookupEnv,
	}
}

// Fetch reads the raw bytes of a source. Sources starting with http:// or
// https:// are fetched over the network; everything else is a file path.
func (l *Loader) Fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", source, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("fetching %s: HTTP %d", source, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return data, nil
}

// Load fetches a source, substitutes {{env.NAME}} placeholders, and decodes
// the document into out. YAML sources are detected by extension; everything
// else is parsed as JSON with comments and trailing commas tolerated.
func (l *Loader) Load(ctx context.Context, source string, out any) error {
	data, err := l.Fetch(ctx, source)
	if err != nil {
		return err
	}

	data = l.substituteEnv(data)

	if isYAMLSource(source) {
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing %s: %w", source, err)
		}
		return nil
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", source, err)
	}
	if err := json.Unmarshal(std, out); err != nil {
		return fmt.Errorf("parsing %s: %w", source, err)
	}
	return nil
}

// substituteEnv replaces {{env.NAME}} placeholders with process environment
// values. Unset variables substitute to the empty string.
func (l *Loader) substituteEnv(data []byte) []byte {
	return envPlaceholder.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPlaceholder.FindSubmatch(match)[1]
		if val, ok := l.lookupEnv(string(name)); ok {
			return []byte(val)
		}
		return nil
	})
}

func isYAMLSource(source string) bool {
	s := strings.ToLower(source)
	return strings.HasSuffix(s, ".yaml") || strings.HasSuffix(s, ".yml")
}

// Digest returns a stable content digest of a decoded configuration, used
// for change detection on derived state.
func Digest(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
