package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor identifies the coordinator behind a request.
type Actor struct {
	ID   string
	Role string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.ID != ""
}

// ResolveActor returns the authenticated user id or "system".
func ResolveActor(r *http.Request) string {
	if r == nil {
		return "system"
	}
	if actor, ok := ActorFromContext(r.Context()); ok {
		return actor.ID
	}
	return "system"
}

func ParseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON decodes the request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
