package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maraichr/eomat/pkg/apierr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes a JSON request body into v and validates its tags.
func decodeBody(r *http.Request, v any) *apierr.Error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.InvalidRequestBody()
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apierr.InvalidParameter(fieldName(verrs[0]), describe(verrs[0]))
		}
		return apierr.InvalidRequestBody()
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "needs at least " + fe.Param()
	case "url":
		return "must be a URL"
	case "datetime":
		return "expected " + fe.Param()
	case "excludesall":
		return "must not contain " + fe.Param()
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
