package httpapi

import (
	"net/http"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

// statusForError maps a gwerrors.Code to an HTTP status, falling back to
// 500 for unrecognized or un-coded errors.
func statusForError(err error) (int, string) {
	code := gwerrors.CodeOf(err)
	switch code {
	case gwerrors.CodeValidation:
		return http.StatusBadRequest, string(code)
	case gwerrors.CodeNotFound, gwerrors.CodeModelNotFound:
		return http.StatusNotFound, string(code)
	case gwerrors.CodeConflict:
		return http.StatusConflict, string(code)
	case gwerrors.CodeProviderAuthentication:
		return http.StatusUnauthorized, string(code)
	case gwerrors.CodeTokenLimitExceeded, gwerrors.CodeContextLengthExceeded:
		return http.StatusRequestEntityTooLarge, string(code)
	case gwerrors.CodeVRAMInsufficient, gwerrors.CodeGPUUnavailable, gwerrors.CodeProviderUnavailable, gwerrors.CodeInfrastructureUnavailable:
		return http.StatusServiceUnavailable, string(code)
	case gwerrors.CodeTimeout:
		return http.StatusGatewayTimeout, string(code)
	case gwerrors.CodeNotSupported:
		return http.StatusNotImplemented, string(code)
	case gwerrors.CodeGenerationFailed:
		return http.StatusBadGateway, string(code)
	default:
		return http.StatusInternalServerError, "internal"
	}
}
