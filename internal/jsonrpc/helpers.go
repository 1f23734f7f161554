package jsonrpc

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/telemeet/sfu-coordinator/internal/validation"
)

var validate = validator.New()

// ShouldBindParams unmarshals and validates params into v.
// Payloads are validated before any handler state mutation is attempted.
func ShouldBindParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ErrInvalidParams("params required")
	}
	if err := json.Unmarshal(*params, v); err != nil {
		return ErrInvalidParams("invalid params")
	}
	if err := validate.Struct(v); err != nil {
		rpcErr := ErrInvalidParams("invalid params")
		if details := validation.FormatValidationError(err); len(details) > 0 {
			if bs, marshalErr := json.Marshal(details); marshalErr == nil {
				rpcErr.Data = Ptr(json.RawMessage(bs))
			}
		}
		return rpcErr
	}
	return nil
}

// Ptr returns a pointer to the passed value.
func Ptr[T any](t T) *T {
	return &t
}
