package authz

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	dErrors "meridian/pkg/domain-errors"
)

// Claims carried by operator capability tokens.
type Claims struct {
	// Capabilities the token grants, e.g. ["dividend:push", "dividend:create"].
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// JWTAuthorizer validates HS256 capability tokens. The actor string passed to
// Can is the raw bearer token; the subject claim becomes the audited actor id
// via ActorFromToken.
type JWTAuthorizer struct {
	signingKey []byte
	issuer     string
}

func NewJWTAuthorizer(signingKey, issuer string) *JWTAuthorizer {
	return &JWTAuthorizer{signingKey: []byte(signingKey), issuer: issuer}
}

// Parse validates a token and returns its claims.
func (a *JWTAuthorizer) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Can reports whether the bearer token grants the capability.
func (a *JWTAuthorizer) Can(_ context.Context, tokenString string, capability Capability) bool {
	claims, err := a.Parse(tokenString)
	if err != nil {
		return false
	}
	for _, c := range claims.Capabilities {
		if Capability(c) == capability {
			return true
		}
	}
	return false
}

// ActorFromToken resolves the audited actor id (subject claim) for a token.
func (a *JWTAuthorizer) ActorFromToken(tokenString string) (string, error) {
	claims, err := a.Parse(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Mint issues a capability token. Used by tests and the operator CLI flow.
func (a *JWTAuthorizer) Mint(subject string, capabilities []Capability, opts jwt.RegisteredClaims) (string, error) {
	caps := make([]string, len(capabilities))
	for i, c := range capabilities {
		caps[i] = string(c)
	}
	opts.Subject = subject
	opts.Issuer = a.issuer
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Capabilities:     caps,
		RegisteredClaims: opts,
	})
	return token.SignedString(a.signingKey)
}
