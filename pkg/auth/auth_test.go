package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cubicler/cubicler/pkg/config"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestSignedToken_RoundTrip(t *testing.T) {
	src := NewSignedToken(testSecret, "cubicler", "agents", "dispatch", time.Hour)

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	verifier := NewVerifier(testSecret, "cubicler", "agents")
	claims, authErr := verifier.Verify(token)
	if authErr != nil {
		t.Fatalf("Verify: %v", authErr)
	}
	if claims["sub"] != "dispatch" {
		t.Errorf("expected sub dispatch, got %v", claims["sub"])
	}

	// Second call serves the cached token.
	again, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if again != token {
		t.Error("expected cached token to be reused")
	}
}

func TestSourceFromConfig(t *testing.T) {
	if src, err := SourceFromConfig(nil); err != nil || src != nil {
		t.Errorf("expected nil source for nil config, got %v, %v", src, err)
	}

	src, err := SourceFromConfig(&config.JWTAuth{Token: "static-abc"})
	if err != nil {
		t.Fatalf("SourceFromConfig: %v", err)
	}
	token, _ := src.Token(context.Background())
	if token != "static-abc" {
		t.Errorf("expected static token, got %q", token)
	}

	src, err = SourceFromConfig(&config.JWTAuth{Secret: testSecret, ExpiresIn: "30m"})
	if err != nil {
		t.Fatalf("SourceFromConfig: %v", err)
	}
	if _, ok := src.(*SignedToken); !ok {
		t.Errorf("expected SignedToken source, got %T", src)
	}

	if _, err := SourceFromConfig(&config.JWTAuth{Secret: testSecret, ExpiresIn: "soon"}); err == nil {
		t.Error("expected error for bad expiresIn")
	}
}

func TestVerifier_Classification(t *testing.T) {
	now := time.Now()
	verifier := NewVerifier(testSecret, "cubicler", "agents")

	valid := jwt.MapClaims{
		"iss": "cubicler",
		"aud": "agents",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{
			name:  "valid token",
			token: signToken(t, testSecret, valid),
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": "cubicler", "aud": "agents",
				"exp": now.Add(-time.Hour).Unix(),
			}),
			wantCode: CodeTokenExpired,
		},
		{
			name: "wrong issuer",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": "someone-else", "aud": "agents",
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantCode: CodeIssuerMismatch,
		},
		{
			name: "wrong audience",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": "cubicler", "aud": "nobody",
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantCode: CodeAudienceMismatch,
		},
		{
			name:     "wrong signature",
			token:    signToken(t, "other-secret", valid),
			wantCode: CodeTokenInvalid,
		},
		{
			name:     "garbage",
			token:    "not.a.token",
			wantCode: CodeTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, authErr := verifier.Verify(tt.token)
			if tt.wantCode == "" {
				if authErr != nil {
					t.Fatalf("unexpected error: %v", authErr)
				}
				return
			}
			if authErr == nil || authErr.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, authErr)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	verifier := NewVerifier(testSecret, "", "")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			t.Error("expected claims in context")
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(verifier, next)

	valid := signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, CodeMissingAuthHeader},
		{"wrong scheme", "Basic dXNlcg==", http.StatusUnauthorized, CodeInvalidAuthScheme},
		{"empty token", "Bearer ", http.StatusUnauthorized, CodeMissingToken},
		{"bad token", "Bearer junk", http.StatusUnauthorized, CodeTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/dispatch", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode != "" {
				var body struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decoding error body: %v", err)
				}
				if body.Error.Code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, body.Error.Code)
				}
			}
		})
	}
}

func TestMiddleware_HealthBypass(t *testing.T) {
	verifier := NewVerifier(testSecret, "", "")
	handler := Middleware(verifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to bypass auth, got %d", rec.Code)
	}
}

func TestMiddleware_NilVerifierPassthrough(t *testing.T) {
	handler := Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/dispatch", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough, got %d", rec.Code)
	}
}
