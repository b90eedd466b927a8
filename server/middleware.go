package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/storefront/identity"
	"goflare.io/storefront/metrics"
)

const (
	DeviceCookie = "device_id"
	DeviceHeader = "X-Device-ID"

	deviceCookieMaxAge = 365 * 24 * 60 * 60
)

type ctxKey int

const (
	deviceKey ctxKey = iota
	sessionKey
)

// deviceID 從 cookie 或 header 取得裝置 id，沒有則發一個新的
func (s *Server) deviceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(DeviceHeader))
		if id == "" {
			if c, err := r.Cookie(DeviceCookie); err == nil {
				id = strings.TrimSpace(c.Value)
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     DeviceCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   deviceCookieMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(DeviceHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey, id)))
	})
}

// session restores the bearer token into a per-request identity.Session. A
// request without a token is anonymous; a bad token is rejected. When the
// provider itself fails the request gets 502 instead of 401.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := identity.NewSession(s.auth)
		state, err := sess.Restore(r.Context(), bearerToken(r))
		if errors.Is(err, identity.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, state.Error)
			return
		}
		if err != nil {
			s.logger.Error("Failed to verify session token", zap.Error(err))
			writeError(w, http.StatusBadGateway, "identity provider unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))

		if status >= http.StatusInternalServerError {
			s.logger.Error("Request failed",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+DeviceHeader)
			w.Header().Set("Access-Control-Expose-Headers", DeviceHeader)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func deviceFrom(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey).(string)
	return id
}

func sessionFrom(ctx context.Context) *identity.Session {
	sess, _ := ctx.Value(sessionKey).(*identity.Session)
	return sess
}
