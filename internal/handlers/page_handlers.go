package handlers

import (
	"io/fs"
	"net/http"

	"github.com/gorilla/mux"
)

// PageHandler serves the viewer page, its assets and optional local base map tiles
type PageHandler struct {
	assets   fs.FS
	tilesDir string
}

// NewPageHandler serves index.html and static/ from assets. Tiles are served
// from tilesDir under /local_tiles/ when it is set.
func NewPageHandler(assets fs.FS, tilesDir string) *PageHandler {
	return &PageHandler{assets: assets, tilesDir: tilesDir}
}

// Index handles GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.assets, "index.html")
	if err != nil {
		sendError(w, "viewer page is not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RegisterRoutes registers the page routes
func (h *PageHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Index).Methods("GET")
	router.PathPrefix("/static/").Handler(http.FileServer(http.FS(h.assets))).Methods("GET")
	if h.tilesDir != "" {
		router.PathPrefix("/local_tiles/").
			Handler(http.StripPrefix("/local_tiles/", http.FileServer(http.Dir(h.tilesDir)))).
			Methods("GET")
	}
}
