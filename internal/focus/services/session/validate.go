package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/rr-focus/internal/focus/common/utils"
	"github.com/haukened/rr-focus/internal/focus/domain"
)

// validHost accepts blank entries (they compile to nothing) and bare host
// names that survive canonicalization.
func validHost(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if strings.TrimSpace(raw) == "" {
		return true
	}
	return utils.ValidateHost(utils.CanonicalHostName(raw)) == nil
}

// registerValidation is a package var so tests can force registration errors.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("focus_host", validHost)
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(v); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	return v, nil
}

// validateRequest runs struct validation and turns the first failure into a
// *domain.ValidationError naming the offending field.
func validateRequest(v *validator.Validate, req domain.UpdateRequest) error {
	if len(req.SessionMetadata) > 0 && !json.Valid(req.SessionMetadata) {
		return domain.NewValidationError("sessionMetadata", "not valid JSON")
	}
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("", "%v", err)
	}
	fe := verrs[0]
	field := jsonField(fe.Namespace())
	switch fe.Tag() {
	case "focus_host":
		host := fmt.Sprint(fe.Value())
		reason := utils.ValidateHost(utils.CanonicalHostName(host))
		return domain.NewValidationError(field, "%q: %v", host, reason)
	case "max":
		return domain.NewValidationError(field, "exceeds maximum size %s", fe.Param())
	default:
		return domain.NewValidationError(field, "failed %q check", fe.Tag())
	}
}

// jsonField maps "UpdateRequest.BlockedHosts[3]" to "blockedHosts[3]".
func jsonField(ns string) string {
	_, field, ok := strings.Cut(ns, ".")
	if !ok {
		field = ns
	}
	switch {
	case strings.HasPrefix(field, "BlockedHosts"):
		return "blockedHosts" + strings.TrimPrefix(field, "BlockedHosts")
	case strings.HasPrefix(field, "SessionMetadata"):
		return "sessionMetadata"
	default:
		return field
	}
}

// DecodeUpdate parses a JSON update. Shape errors such as a string where the
// host list belongs are reported as *domain.ValidationError, never coerced.
func DecodeUpdate(r io.Reader) (domain.UpdateRequest, error) {
	var req domain.UpdateRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return domain.UpdateRequest{}, domain.NewValidationError(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		case errors.Is(err, io.EOF):
			return domain.UpdateRequest{}, domain.NewValidationError("", "empty body")
		default:
			return domain.UpdateRequest{}, domain.NewValidationError("", "malformed JSON: %v", err)
		}
	}
	return req, nil
}

// DecodeUpdateBytes is DecodeUpdate over a byte slice.
func DecodeUpdateBytes(data []byte) (domain.UpdateRequest, error) {
	return DecodeUpdate(bytes.NewReader(data))
}
