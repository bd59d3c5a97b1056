package handlers

import (
	"net/http"

	"scenerender/internal/httpkit"
	"scenerender/internal/ids"
	"scenerender/internal/pkg/errors"
)

// GenerateUserUUID starts a fresh identity and stores it in the session cookie.
func (h *Handler) GenerateUserUUID(w http.ResponseWriter, r *http.Request) error {
	userID := ids.NewID()
	if _, err := h.sessions.SetCookie(w, userID); err != nil {
		return errors.Wrap(err, "users.generate", "failed to issue session")
	}
	h.log.FromContext(r.Context()).Info("user uuid generated", "user_uuid", userID)
	httpkit.WriteJSON(w, http.StatusOK, map[string]string{"user_uuid": userID})
	return nil
}

type setUserRequest struct {
	UserUUID string `json:"userUuid"`
}

// SetExistingUserUUID restores an identity the browser kept from an earlier
// visit.
func (h *Handler) SetExistingUserUUID(w http.ResponseWriter, r *http.Request) error {
	var req setUserRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid JSON body")
	}
	if req.UserUUID == "" {
		httpkit.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "No UUID provided",
		})
		return nil
	}

	if _, err := h.sessions.SetCookie(w, req.UserUUID); err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("existing user uuid restored", "user_uuid", req.UserUUID)
	httpkit.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "UUID set in session",
	})
	return nil
}
