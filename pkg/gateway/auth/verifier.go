package auth

import (
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Token rejection reasons, mirrored in TokenError.Reason.
const (
	ReasonInvalid = "invalid"
	ReasonExpired = "expired"
	ReasonRevoked = "revoked"
)

// TokenError reports why an identity token was rejected.
type TokenError struct {
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("identity token %s", e.Reason)
}

// Verifier checks HMAC-SHA256 identity tokens issued by the platform's
// identity service and resolves them to a subject (student) id.
type Verifier struct {
	Secret  []byte
	Issuer  string
	Revoked map[string]struct{}
}

func NewVerifier(secret, issuer string, revoked map[string]struct{}) *Verifier {
	return &Verifier{
		Secret:  []byte(secret),
		Issuer:  issuer,
		Revoked: revoked,
	}
}

// Verify returns the token's subject id or a TokenError with reason
// invalid, expired, or revoked.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", &TokenError{Reason: ReasonInvalid}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &TokenError{Reason: ReasonExpired}
		}
		return "", &TokenError{Reason: ReasonInvalid}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", &TokenError{Reason: ReasonInvalid}
	}

	if jti, _ := claims["jti"].(string); jti != "" {
		if _, revoked := v.Revoked[jti]; revoked {
			return "", &TokenError{Reason: ReasonRevoked}
		}
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", &TokenError{Reason: ReasonInvalid}
	}
	return subject, nil
}
