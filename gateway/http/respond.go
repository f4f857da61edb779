package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cesmii/i3x/errors"
)

// errorBody is the structured error response for every non-422 failure.
type errorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// detailBody is the 422 response shape.
type detailBody struct {
	Detail []errors.FieldError `json:"detail"`
}

// partialBody reports a partially completed operation with per-item status.
type partialBody struct {
	Code  string       `json:"code"`
	Msg   string       `json:"msg"`
	Items []itemStatus `json:"items"`
}

type itemStatus struct {
	ElementID string `json:"elementId"`
	Status    string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a typed domain error to its status code and body.
// Validation failures render as 422 with per-field details; a partial
// failure renders as 200 with an explicit per-item status list.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, detailBody{Detail: ve.Details})
		return
	}

	var pf *errors.PartialFailure
	if errors.As(err, &pf) {
		items := make([]itemStatus, 0, len(pf.Succeeded)+len(pf.Remaining))
		for _, id := range pf.Succeeded {
			items = append(items, itemStatus{ElementID: id, Status: "ok"})
		}
		for _, id := range pf.Remaining {
			items = append(items, itemStatus{ElementID: id, Status: "failed"})
		}
		writeJSON(w, http.StatusOK, partialBody{
			Code:  errors.CodePartialFailure,
			Msg:   pf.Error(),
			Items: items,
		})
		return
	}

	code := errors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Code: code, Msg: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case errors.CodeValidation:
		return http.StatusUnprocessableEntity
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict, errors.CodeCycleDetected:
		return http.StatusConflict
	case errors.CodeInvalidBase:
		return http.StatusBadRequest
	case errors.CodeTimeout:
		return http.StatusServiceUnavailable
	case errors.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. An empty body is allowed when dst
// accepts the zero value; malformed JSON is a validation error.
func decode(r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.NewValidation("body", "malformed JSON: "+err.Error())
	}
	return nil
}
