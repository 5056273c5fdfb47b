package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopwave/internal/domain/session"
	"github.com/xenking/shopwave/pkg/httpmiddleware"
)

type sessionKey struct{}

type sessionValue struct {
	s *session.Session
	// minted is set when the request carried no usable cookie.
	minted bool
}

func sessionFrom(ctx context.Context) *session.Session {
	v, _ := ctx.Value(sessionKey{}).(sessionValue)
	return v.s
}

// SessionKey keys rate limits by session. Requests that just received a
// new session, and requests outside session routes, are keyed by client IP
// so clients that drop the cookie share one bucket.
func SessionKey(r *http.Request) string {
	if v, ok := r.Context().Value(sessionKey{}).(sessionValue); ok && !v.minted {
		return "session:" + v.s.ID()
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// withSession resolves the session cookie, issuing a new session when the
// cookie is missing or malformed.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			id     string
			minted bool
		)
		if c, err := r.Cookie(h.cfg.CookieName); err == nil && session.ValidID(c.Value) {
			id = c.Value
		} else {
			id, minted = session.NewID(), true
			http.SetCookie(w, &http.Cookie{
				Name:     h.cfg.CookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(h.cfg.CookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   h.cfg.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		s, err := h.sessions.Get(ctx, id)
		if err != nil {
			zctx.From(ctx).Error("Resolve session", zap.Error(err))
			httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx = context.WithValue(ctx, sessionKey{}, sessionValue{s: s, minted: minted})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
