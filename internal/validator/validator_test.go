package validator

import (
	"testing"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startPayload struct {
	AccessCode string `json:"access_code" validate:"omitempty,examtoken"`
}

func TestExamTokenTag(t *testing.T) {
	v := govalidator.New()
	register(v)

	assert.NoError(t, v.Struct(startPayload{}))
	assert.NoError(t, v.Struct(startPayload{AccessCode: "AB12CD"}))
	assert.NoError(t, v.Struct(startPayload{AccessCode: " ab12cd "}))

	err := v.Struct(startPayload{AccessCode: "AB12"})
	require.Error(t, err)
	fields := TranslateErrors(err)
	assert.Equal(t, "access_code must be 6 letters or digits", fields["access_code"])

	assert.Error(t, v.Struct(startPayload{AccessCode: "AB-2CD"}))
}
