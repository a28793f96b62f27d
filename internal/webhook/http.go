package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/noah-isme/autosms-go/internal/common"
)

// DefaultMaxBodyBytes caps webhook bodies when MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 1 << 20

// HTTPHandler adapts the receiver to net/http. maxBody <= 0 selects
// DefaultMaxBodyBytes.
func (rc Receiver) HTTPHandler(callback Callback, maxBody int64) http.Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				common.JSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "Payload too large"})
				return
			}
			common.JSON(w, http.StatusBadRequest, map[string]any{"error": "Unable to read payload"})
			return
		}
		res := rc.Handle(r.Context(), body, r.Header.Get(SignatureHeader), callback)
		common.JSON(w, res.Status, res.Body)
	})
}
