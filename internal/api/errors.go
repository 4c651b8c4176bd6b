package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/aury/internal/apierr"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeError maps err onto the error envelope using its apierr kind.
// Server-side failures get a fixed message; the cause is only logged.
func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	switch kind {
	case apierr.Unauthorized:
		httpError(w, kind.Status(), string(kind), "invalid or missing bearer token")
	case apierr.ProfileNotFound:
		httpError(w, kind.Status(), string(kind), "profile not found")
	case apierr.GenerationError:
		httpError(w, kind.Status(), string(kind), "AI generation failed")
	case apierr.PersistenceError, apierr.RegistrationError:
		httpError(w, kind.Status(), string(kind), "storage failure")
	default:
		httpError(w, kind.Status(), string(kind), "%s", causeMessage(err))
	}
}

func causeMessage(err error) string {
	var e *apierr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
