package middleware

import (
	"net/http"

	"github.com/temzero/chatter-sub006/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
