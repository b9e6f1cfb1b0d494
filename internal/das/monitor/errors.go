package monitor

import (
	"errors"
	"net/http"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/httputil"
)

// statusForError maps session-level error kinds onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, das.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, das.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, das.ErrDeviceStartFailed):
		return http.StatusGatewayTimeout
	case errors.Is(err, das.ErrSessionActive), errors.Is(err, das.ErrSessionNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONErrorKind(w, statusForError(err), das.Kind(err), err.Error())
}
