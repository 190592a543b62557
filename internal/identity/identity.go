package identity

import (
	"context"
	"net/http"
	"strings"

	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// Header names carrying the caller's identity
const (
	HeaderParticipantID     = "X-Participant-Id"
	HeaderParticipantName   = "X-Participant-Name"
	HeaderParticipantAvatar = "X-Participant-Avatar"
)

type contextKey struct{}

// WithParticipant returns a context carrying p as the current participant
func WithParticipant(ctx context.Context, p types.Participant) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the participant stored by WithParticipant
func FromContext(ctx context.Context) (types.Participant, bool) {
	p, ok := ctx.Value(contextKey{}).(types.Participant)
	return p, ok
}

// ContextProvider resolves identity from the request context
type ContextProvider struct{}

func (ContextProvider) CurrentParticipant(ctx context.Context) (types.Participant, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return types.Participant{}, interfaces.ErrNoIdentity
	}
	return p, nil
}

// FromRequest extracts the participant from headers, falling back to the
// query parameters used by WebSocket clients (participant_id, name, avatar)
func FromRequest(r *http.Request) (types.Participant, error) {
	q := r.URL.Query()
	p := types.Participant{
		ID:     firstNonEmpty(r.Header.Get(HeaderParticipantID), q.Get("participant_id")),
		Name:   firstNonEmpty(r.Header.Get(HeaderParticipantName), q.Get("name")),
		Avatar: firstNonEmpty(r.Header.Get(HeaderParticipantAvatar), q.Get("avatar")),
	}
	if p.ID == "" {
		return types.Participant{}, interfaces.ErrNoIdentity
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if err := p.Validate(); err != nil {
		return types.Participant{}, err
	}
	return p, nil
}

// Middleware attaches the request's participant, when present, to its context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := FromRequest(r); err == nil {
			r = r.WithContext(WithParticipant(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
