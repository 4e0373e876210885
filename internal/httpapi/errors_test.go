package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

func TestStatusForErrorMapsKnownCodes(t *testing.T) {
	cases := []struct {
		code   gwerrors.Code
		status int
	}{
		{gwerrors.CodeValidation, http.StatusBadRequest},
		{gwerrors.CodeNotFound, http.StatusNotFound},
		{gwerrors.CodeModelNotFound, http.StatusNotFound},
		{gwerrors.CodeConflict, http.StatusConflict},
		{gwerrors.CodeProviderAuthentication, http.StatusUnauthorized},
		{gwerrors.CodeTokenLimitExceeded, http.StatusRequestEntityTooLarge},
		{gwerrors.CodeContextLengthExceeded, http.StatusRequestEntityTooLarge},
		{gwerrors.CodeVRAMInsufficient, http.StatusServiceUnavailable},
		{gwerrors.CodeGPUUnavailable, http.StatusServiceUnavailable},
		{gwerrors.CodeProviderUnavailable, http.StatusServiceUnavailable},
		{gwerrors.CodeInfrastructureUnavailable, http.StatusServiceUnavailable},
		{gwerrors.CodeTimeout, http.StatusGatewayTimeout},
		{gwerrors.CodeNotSupported, http.StatusNotImplemented},
		{gwerrors.CodeGenerationFailed, http.StatusBadGateway},
	}
	for _, c := range cases {
		status, code := statusForError(gwerrors.New(c.code, "boom"))
		assert.Equal(t, c.status, status, "code %s", c.code)
		assert.Equal(t, string(c.code), code)
	}
}

func TestStatusForErrorFallsBackToInternalForPlainError(t *testing.T) {
	status, code := statusForError(errors.New("unexpected"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)
}
