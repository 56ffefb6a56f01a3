package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type turnPayload struct {
	Message   string `json:"message" validate:"required,notblank,max=20"`
	SubjectID string `json:"subjectId,omitempty" validate:"omitempty,max=8"`
}

func TestValidateStructSuccess(t *testing.T) {
	require.NoError(t, ValidateStruct(turnPayload{Message: "Hello", SubjectID: "app-1"}))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(turnPayload{
		Message:   strings.Repeat("x", 21),
		SubjectID: "application-123",
	})
	require.Error(t, err)

	var vErrs ValidationErrors
	require.True(t, errors.As(err, &vErrs))
	require.Len(t, vErrs, 2)
	require.True(t, vErrs.Has("message"))
	require.True(t, vErrs.Has("subjectId"))
	require.Contains(t, vErrs.Error(), "message failed on max=20")
}

func TestNotBlankRejectsWhitespace(t *testing.T) {
	err := ValidateStruct(turnPayload{Message: "   "})
	require.Error(t, err)

	var vErrs ValidationErrors
	require.True(t, errors.As(err, &vErrs))
	require.Equal(t, "notblank", vErrs[0].Tag)
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("hrdash", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "hrdash"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"hrdash"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "hrdash"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
