package api

import (
	"encoding/json"
	"net/http"

	"github.com/warp/compliance-engine/ledger"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
//
//	validation, bad_request, settlement -> 400
//	forbidden                           -> 403
//	not_found                           -> 404
//	business                            -> 409
//	anything else                       -> 500
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation, ledger.KindBadRequest, ledger.KindSettlement:
		return http.StatusBadRequest
	case ledger.KindForbidden:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindBusiness:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status its kind maps to. Internal errors are
// logged and their details hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error", nil)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(ledger.KindOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
