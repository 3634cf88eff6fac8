package models

import "context"

type sessionKey struct{}

// WithSessionID tags ctx with the prediction session that produced an event.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session id stored by WithSessionID, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
