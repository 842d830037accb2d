package naming

import (
	"errors"
	"testing"
)

func TestServerHash_Deterministic(t *testing.T) {
	a := ServerHash("weather", "http://wx:9")
	b := ServerHash("weather", "http://wx:9")
	if a != b {
		t.Errorf("same inputs produced different tokens: %s vs %s", a, b)
	}
	if len(a) != HashLength {
		t.Errorf("expected %d-char token, got %q", HashLength, a)
	}
}

func TestServerHash_DistinctInputs(t *testing.T) {
	seen := map[string]string{}
	pairs := [][2]string{
		{"weather", "http://wx:9"},
		{"weather", "http://wx:10"},
		{"weather2", "http://wx:9"},
		{"calendar", "npx calendar-mcp"},
	}
	for _, p := range pairs {
		tok := ServerHash(p[0], p[1])
		if prev, ok := seen[tok]; ok {
			t.Errorf("token collision between %q and %v", prev, p)
		}
		seen[tok] = p[0] + "|" + p[1]
	}
}

func TestSnake(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"getCurrent", "get_current"},
		{"GetCurrentWeather", "get_current_weather"},
		{"already_snake", "already_snake"},
		{"kebab-case-name", "kebab_case_name"},
		{"With Spaces", "with_spaces"},
		{"HTTPServer", "httpserver"},
		{"v2Endpoint", "v2_endpoint"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Snake(c.in); got != c.want {
			t.Errorf("Snake(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSnake_Idempotent(t *testing.T) {
	inputs := []string{"getCurrent", "GetCurrentWeather", "kebab-case", "x"}
	for _, in := range inputs {
		once := Snake(in)
		if twice := Snake(once); twice != once {
			t.Errorf("Snake not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	token := ServerHash("wx", "http://wx:9")
	name := ToolName(token, "getCurrent")

	parsed, err := Parse(name)
	if err != nil {
		t.Fatalf("Parse(%q): %v", name, err)
	}
	if parsed.Kind != KindExternal {
		t.Errorf("expected external kind")
	}
	if parsed.Token != token {
		t.Errorf("expected token %q, got %q", token, parsed.Token)
	}
	if parsed.Function != "get_current" {
		t.Errorf("expected function get_current, got %q", parsed.Function)
	}
}

func TestParse_Internal(t *testing.T) {
	parsed, err := Parse("cubicler_available_servers")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Kind != KindInternal {
		t.Errorf("expected internal kind")
	}
	if parsed.Name != "cubicler_available_servers" {
		t.Errorf("unexpected name %q", parsed.Name)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, name := range []string{"nounderscore", "abc_tool", "1234567_tool", "abcdef_"} {
		if _, err := Parse(name); !errors.Is(err, ErrMalformedToolName) {
			t.Errorf("Parse(%q): expected ErrMalformedToolName, got %v", name, err)
		}
	}
}
