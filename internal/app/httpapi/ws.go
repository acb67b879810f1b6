package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/renderdeck/renderdeck/internal/app/notify"
	"github.com/renderdeck/renderdeck/internal/middleware"
)

// websocket subscribes the caller to their private event channel. Delivery
// is best-effort; clients reconcile missed updates through the read
// endpoints.
func (h *handler) websocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == 0 {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		channel = notify.UserChannel(userID)
	}
	owner, err := notify.ParseUserChannel(channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if owner != userID {
		writeError(w, http.StatusForbidden, fmt.Errorf("channel %s not owned by caller", channel))
		return
	}

	if err := h.app.Hub.ServeWS(w, r, userID); err != nil {
		// The upgrader has already written its own error response.
		h.log.WithError(err).WithField("user_id", userID).Warn("websocket upgrade")
	}
}
