package customerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferHttpError(t *testing.T) {
	assert.ErrorIs(t, InferHttpError(429), ErrorRateLimit)
	assert.ErrorIs(t, InferHttpError(422), ErrorUnprocessable)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", InferHttpError(404)), ErrorNotFound)

	err := InferHttpError(503)
	var httpErr ErrorHttpResponse
	assert.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 503, httpErr.Code())
	assert.NotErrorIs(t, err, ErrorNotFound)
}

func TestCustomMessageMatchesByCode(t *testing.T) {
	err := MakeErrorHttpResponse(422, "variant sold out")
	assert.ErrorIs(t, err, ErrorUnprocessable)
	assert.Contains(t, err.Error(), "variant sold out")
}
