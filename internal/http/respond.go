package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends a plain error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}

// writeDomainError maps the domain taxonomy to an HTTP status and envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	body := map[string]string{
		"code":    string(code),
		"message": err.Error(),
	}
	if rule := domain.RuleOf(err); rule != "" {
		body["rule"] = rule
	}
	writeJSON(w, statusOf(code), map[string]any{"error": body})
}

func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
