package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pliu/etoe/internal/errs"
	"github.com/pliu/etoe/internal/middleware"
	"github.com/pliu/etoe/internal/store"
	"github.com/pliu/etoe/internal/ws"
)

type ChatHandler struct {
	Store    store.Store
	Hub      *ws.Hub
	Upgrader *websocket.Upgrader
	Logger   *slog.Logger
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())

	chats, err := h.Store.ListChats(user.ID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	writeJSON(w, chats)
}

// CreateChat takes the partner's name as the raw request body.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNameBody))
	if err != nil {
		writeError(w, h.Logger, errs.Wrap(errs.CodeInvalidRequest, "read chat partner", err))
		return
	}

	chat, err := h.Store.CreateChat(user.ID, string(body))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	writeJSON(w, chat)
}

func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	chatID := mux.Vars(r)["id"]

	var req PostMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeError(w, h.Logger, errs.Wrap(errs.CodeInvalidRequest, "decode message", err))
		return
	}

	msg, err := h.Store.PostMessage(user.ID, chatID, req.Content)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	writeJSON(w, msg)
}

// PeerKey returns the chat partner's current public key as plain text.
func (h *ChatHandler) PeerKey(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())

	key, err := h.Store.PeerKey(user.ID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	writeText(w, key)
}

func (h *ChatHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	ws.ServeWs(h.Hub, h.Upgrader, w, r, user.ID)
}
