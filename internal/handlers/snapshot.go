package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pliu/etoe/internal/snapshot"
	"github.com/pliu/etoe/internal/store"
)

// SnapshotHandler dumps the full directory and chat store. It carries no
// authentication of its own and is only mounted on the maintenance
// listener, which must stay behind network-level access control.
type SnapshotHandler struct {
	Store  store.Store
	Sink   snapshot.Sink
	Logger *slog.Logger
}

func (h *SnapshotHandler) Export(w http.ResponseWriter, r *http.Request) {
	state := h.Store.Export()
	if err := h.Sink.Save(r.Context(), state); err != nil {
		h.Logger.Error("snapshot export failed", "err", err)
		http.Error(w, "Snapshot failed", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("snapshot exported", "users", len(state.Users), "chats", len(state.Chats))
	writeText(w, "Done")
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeText(w, "OK")
}
