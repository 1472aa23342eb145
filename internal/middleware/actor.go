package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

// ActorHeader names the header the auth gateway uses to pass the authenticated actor id
const ActorHeader = "X-Actor-ID"

type contextKey string

const actorKey contextKey = "actor"

// ActorFromContext returns the actor id stored by RequireActor
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

// WithActor stores actor in ctx
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// RequireActor rejects requests without an actor header with 401
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "error",
				"code":    "Unauthenticated",
				"message": "missing " + ActorHeader + " header",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
