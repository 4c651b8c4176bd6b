package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Unauthorized, http.StatusUnauthorized},
		{ProfileNotFound, http.StatusNotFound},
		{ValidationError, http.StatusBadRequest},
		{GenerationError, http.StatusInternalServerError},
		{RegistrationError, http.StatusInternalServerError},
		{PersistenceError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Status())
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", New(GenerationError, cause))

	assert.Equal(t, GenerationError, KindOf(err))
	assert.True(t, Is(err, GenerationError))
	assert.False(t, Is(err, Unauthorized))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, PersistenceError, KindOf(errors.New("disk full")))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "validation_error: question is required", Newf(ValidationError, "question is required").Error())
	assert.Equal(t, "unauthorized", New(Unauthorized, nil).Error())
}
