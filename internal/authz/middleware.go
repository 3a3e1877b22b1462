package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"meridian/internal/platform/middleware"
)

type contextKeyActor struct{}
type contextKeyCapabilities struct{}

// GetActor retrieves the authenticated actor id from the context, or "".
func GetActor(ctx context.Context) string {
	actor, ok := ctx.Value(contextKeyActor{}).(string)
	if !ok {
		return ""
	}
	return actor
}

// WithActor stores the actor id; exported for handler tests.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, contextKeyActor{}, actor)
}

// WithCapabilities stores the capability set the bearer token grants.
func WithCapabilities(ctx context.Context, caps []Capability) context.Context {
	granted := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		granted[c] = true
	}
	return context.WithValue(ctx, contextKeyCapabilities{}, granted)
}

// FromContext authorizes from the capability set the transport middleware
// resolved out of the bearer token. Services behind the HTTP layer use this;
// the actor argument is ignored because the token was already verified.
type FromContext struct{}

func (FromContext) Can(ctx context.Context, _ string, capability Capability) bool {
	granted, ok := ctx.Value(contextKeyCapabilities{}).(map[Capability]bool)
	return ok && granted[capability]
}

// RequireCapability gates a route on a capability. The bearer token is
// validated, checked for the capability, and its subject stored in context as
// the audited actor.
func RequireCapability(auth *JWTAuthorizer, capability Capability, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := auth.Parse(token)
			if err != nil {
				unauthorized(w)
				return
			}
			caps := make([]Capability, len(claims.Capabilities))
			granted := false
			for i, c := range claims.Capabilities {
				caps[i] = Capability(c)
				granted = granted || caps[i] == capability
			}
			if !granted {
				logger.WarnContext(ctx, "capability denied",
					"capability", capability,
					"request_id", middleware.GetRequestID(ctx),
				)
				forbidden(w)
				return
			}
			ctx = WithCapabilities(WithActor(ctx, claims.Subject), caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate resolves the actor without requiring a specific capability;
// used by self-serve routes (pull claims) where the actor is the holder.
func Authenticate(auth *JWTAuthorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := auth.Parse(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", middleware.GetRequestID(ctx),
				)
				unauthorized(w)
				return
			}
			caps := make([]Capability, len(claims.Capabilities))
			for i, c := range claims.Capabilities {
				caps[i] = Capability(c)
			}
			ctx = WithCapabilities(WithActor(ctx, claims.Subject), caps)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"missing capability"}`))
}
