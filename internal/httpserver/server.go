package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

type Server struct {
	Mux *mux.Router
}

// New builds the shared router. Unknown routes answer in the same plain-text
// error shape the handlers use, so provider webhook retries against a stale
// path see a consistent 404.
func New() *Server {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, ErrNotFound, http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return &Server{Mux: r}
}
