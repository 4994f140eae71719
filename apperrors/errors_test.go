package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStatusCode(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "input missing", err: NewInputMissingError("no image file provided", nil), want: http.StatusBadRequest},
		{name: "decode", err: NewDecodeError("could not read image", cause), want: http.StatusBadRequest},
		{name: "too large", err: NewTooLargeError("too big", nil), want: http.StatusRequestEntityTooLarge},
		{name: "unsupported", err: NewUnsupportedError("nope", nil), want: http.StatusUnsupportedMediaType},
		{name: "encode", err: NewEncodeError("png", cause), want: http.StatusInternalServerError},
		{name: "busy", err: NewBusyError("queue full", nil), want: http.StatusServiceUnavailable},
		{name: "not found", err: NewNotFoundError("missing", nil), want: http.StatusNotFound},
		{name: "wrapped", err: fmt.Errorf("handler: %w", NewValidationError("bad variant", nil)), want: http.StatusBadRequest},
		{name: "plain error", err: cause, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetStatusCode(tt.err))
		})
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewDecodeError("could not read image", nil))

	assert.True(t, IsType(err, ErrorTypeDecode))
	assert.False(t, IsType(err, ErrorTypeEncode))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeDecode))
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("imdecode failed")
	err := NewDecodeError("could not read image", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "decode: could not read image (caused by: imdecode failed)", err.Error())
	assert.Equal(t, "busy: queue full", NewBusyError("queue full", nil).Error())
}
