package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"salonbook/internal/models"
)

type errorResponse struct {
	Success bool              `json:"success"`
	Reason  models.Reason     `json:"reason"`
	Message string            `json:"message"`
	Fields  []ValidationError `json:"fields,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return models.ErrInvalidRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a {success, reason, message} body.
// Raw store errors never reach the client.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Reason: models.ReasonOf(err), Message: models.UserMessage(err)}
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = verrs
		resp.Message = "request validation failed"
	}
	writeJSON(w, statusFor(resp.Reason), resp)
}

// writeOutcome renders an outcome; ok is the status used on success.
func writeOutcome(w http.ResponseWriter, ok int, out models.Outcome) {
	if out.Success {
		writeJSON(w, ok, out)
		return
	}
	writeJSON(w, statusFor(out.Reason), out)
}

func statusFor(reason models.Reason) int {
	switch reason {
	case models.ReasonSlotUnavailable, models.ReasonAlreadyLocked, models.ReasonAlreadyBooked,
		models.ReasonConcurrentModification:
		return http.StatusConflict
	case models.ReasonInvalidRequest:
		return http.StatusBadRequest
	case models.ReasonNotFound:
		return http.StatusNotFound
	case models.ReasonForbidden:
		return http.StatusForbidden
	case models.ReasonInvalidTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", models.ErrInvalidRequest)
	}
	return s.check(dst)
}

func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Error()
		switch fe.Tag() {
		case "required", "required_without":
			msg = "is required"
		case "min":
			msg = "must be at least " + fe.Param()
		case "max":
			msg = "must be at most " + fe.Param()
		case "oneof":
			msg = "must be one of: " + fe.Param()
		case "datetime":
			msg = "must be a date in " + fe.Param() + " format"
		case "clock":
			msg = "must be a time in HH:MM format"
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}
