package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// writeError emits an OpenAI-style error envelope.
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	writeJSON(w, status, oai.Error{Error: oai.ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}

// writeProviderError maps an upstream failure onto the public error
// taxonomy. Every candidate failing is the gateway's 502; a timeout
// reaching the providers is 504.
func writeProviderError(w http.ResponseWriter, err error) {
	var exhausted *providers.ExhaustedError
	if errors.As(err, &exhausted) {
		writeError(w, http.StatusBadGateway, exhausted.Error(), "upstream_error", "all_providers_failed")
		return
	}
	if errors.Is(err, providers.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_request")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "upstream request timed out", "upstream_error", "upstream_timeout")
		return
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		writeError(w, http.StatusBadGateway, httpErr.Error(), "upstream_error", "upstream_rejected")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
}
