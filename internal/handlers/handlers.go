package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pliu/etoe/internal/errs"
)

const (
	maxNameBody    = 1 << 10
	maxMessageBody = 1 << 20
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s))
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	}
	http.Error(w, errs.Body(err), status)
}
