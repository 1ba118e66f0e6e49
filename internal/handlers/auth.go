package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/etoe/internal/errs"
	"github.com/pliu/etoe/internal/store"
)

type RegisterRequest struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	PublicKey string `json:"publicKey"`
}

type AuthHandler struct {
	Store  store.Store
	Logger *slog.Logger
}

// Register creates an account or logs into an existing one, answering with
// the account's token as plain text.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeError(w, h.Logger, errs.Wrap(errs.CodeInvalidRequest, "decode registration", err))
		return
	}

	token, err := h.Store.Register(req.Name, req.Password, req.PublicKey)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	writeText(w, token)
}
