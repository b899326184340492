package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"social-chat/internal/auth"
	"social-chat/internal/database"
	"social-chat/internal/router"
	"social-chat/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireAuth resolves the bearer token to a user ID before calling next.
func RequireAuth(authService *auth.Service, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		userID, err := authService.UserIDFromToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			logger.Debug("Rejected token", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// CORS allows every origin when origins is empty and echoes allowed ones otherwise.
func CORS(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origins []string, origin string) bool {
	if len(origins) == 0 {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	return lo.Contains(origins, strings.ToLower(parsed.Scheme+"://"+parsed.Host))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeChatError maps domain errors onto status codes.
func writeChatError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, router.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, router.ErrInvalidIntent), errors.As(err, &validationErrs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrUnknownRecipient), errors.Is(err, database.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrNotParticipant), errors.Is(err, database.ErrNotMessageOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case router.IsStorageError(err):
		logger.Error("Storage failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error("Unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
