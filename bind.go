package admit

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
	return v
}

// JSON decodes the request body into dest and validates it with `validate`
// struct tags. On failure it records the error with SetError and returns false:
// 413 for bodies over MaxBodySize, 400 for malformed JSON or failed validation.
//
//	var req CreateOrderRequest
//	if !admit.JSON(r, &req) {
//		return
//	}
func JSON(r *http.Request, dest any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			SetError(r, ErrPayloadTooLarge.With("Request body too large"))
		} else {
			SetError(r, ErrBadRequest.With("Invalid JSON request body"))
		}
		return false
	}

	if err := validate.Struct(dest); err != nil {
		SetError(r, NewValidationError(fieldErrors(err)))
		return false
	}
	return true
}

func fieldErrors(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []FieldError{{Code: "validation", Message: err.Error()}}
	}
	result := make([]FieldError, len(errs))
	for i, e := range errs {
		result[i] = FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: validationMessage(e.Tag(), e.Param()),
		}
	}
	return result
}

func validationMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "min", "gte":
		return "must be at least " + param
	case "max", "lte":
		return "must be at most " + param
	case "gt":
		return "must be greater than " + param
	case "oneof":
		return "must be one of: " + param
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}
