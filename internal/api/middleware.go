package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/thoughtstream/thoughtstream/internal/auth"
	"github.com/thoughtstream/thoughtstream/internal/errors"
	"github.com/thoughtstream/thoughtstream/internal/observability"
)

type ctxKey string

const ctxKeyClaims ctxKey = "claims"

// requestContext copies chi's request id into the logging context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		observability.LoggerFromContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeError(w, r, errors.NewUnauthorized("authorization header is required"))
			return
		}
		claims, err := auth.ValidateJWT(h.jwtSecret, credentialFrom(r))
		if err != nil {
			observability.LoggerFromContext(r.Context()).Debug("token rejected", "error", err)
			writeError(w, r, errors.NewUnauthorized("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireWrite rejects mutating requests from tokens without the write scope.
func requireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !canWrite(r.Context()) {
				writeError(w, r, errors.NewForbidden("token lacks the write scope"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func canWrite(ctx context.Context) bool {
	claims, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return ok && claims.CanWrite()
}
