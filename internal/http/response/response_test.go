package response

import (
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Role     string `validate:"oneof=user assistant"`
}

func TestValidationError(t *testing.T) {
	err := validator.New().Struct(sample{Email: "nope", Password: "short", Role: "system"})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Contains(t, resp.Error, "field Email must be a valid email")
	assert.Contains(t, resp.Error, "field Password must be at least 8 characters")
	assert.Contains(t, resp.Error, "field Role must be one of [user assistant]")
}

func TestErrorWithData(t *testing.T) {
	resp := ErrorWithData("no_credits", "no credits left", map[string]int{"total": 0})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "no_credits", resp.Code)
	assert.Equal(t, map[string]int{"total": 0}, resp.Data)
}
