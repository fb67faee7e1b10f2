package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type principalKey struct{}

// Principal проверенный пользователь запроса
type Principal struct {
	UID           string
	Email         string
	EmailVerified bool
	Admin         bool
}

func principalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// requireUser проверяет токен и подтвержденный email
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeFailure(w, http.StatusUnauthorized, "Authentication required.")
			return
		}

		token, err := s.svc.Identity.VerifyToken(r.Context(), raw)
		if err != nil {
			s.logger.Debug("токен отклонен", zap.Error(err))
			writeFailure(w, http.StatusUnauthorized, "Invalid or expired session.")
			return
		}
		if !token.EmailVerified {
			writeFailure(w, http.StatusForbidden, "Please verify your email before continuing.")
			return
		}

		p := &Principal{
			UID:           token.UID,
			Email:         token.Email,
			EmailVerified: token.EmailVerified,
			Admin:         token.Admin,
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin пропускает администраторов. Решает только признак isAdmin в профиле.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFromContext(r.Context())
		if p == nil {
			writeFailure(w, http.StatusUnauthorized, "Authentication required.")
			return
		}

		// claim в токене фиксируется при выдаче и переживает отзыв роли
		isAdmin, err := s.svc.Users.IsAdmin(r.Context(), p.UID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !isAdmin {
			s.logger.Warn("попытка доступа к панели администратора",
				zap.String("user_id", p.UID),
				zap.Bool("token_claim", p.Admin))
			writeFailure(w, http.StatusForbidden, "Administrator access required.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
