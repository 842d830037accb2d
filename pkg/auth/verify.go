package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Rejection codes returned with 401 responses.
const (
	CodeMissingAuthHeader       = "MISSING_AUTH_HEADER"
	CodeInvalidAuthScheme       = "INVALID_AUTH_SCHEME"
	CodeMissingToken            = "MISSING_TOKEN"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeIssuerMismatch          = "ISSUER_MISMATCH"
	CodeAudienceMismatch        = "AUDIENCE_MISMATCH"
	CodeTokenVerificationFailed = "TOKEN_VERIFICATION_FAILED"
)

// Error is an authentication rejection with a stable machine code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verifier validates inbound HS256 bearer tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier creates a verifier. Issuer and audience are only enforced
// when non-empty.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Verify parses and validates a raw token string, returning its claims.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, *Error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &Error{CodeTokenExpired, "token has expired"}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &Error{CodeIssuerMismatch, "token issuer does not match"}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &Error{CodeAudienceMismatch, "token audience does not match"}
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &Error{CodeTokenInvalid, "token is invalid"}
	default:
		return &Error{CodeTokenVerificationFailed, "token verification failed"}
	}
}
