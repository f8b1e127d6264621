package webserver

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed static
var embedded embed.FS

// assetHandler serves files from an override directory when present and
// falls back to the embedded copies.
type assetHandler struct {
	overrideDir string
	fallback    http.Handler
}

func newAssetHandler(overrideDir string) *assetHandler {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return &assetHandler{
		overrideDir: overrideDir,
		fallback:    http.FileServer(http.FS(sub)),
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.overrideDir != "" {
		path := filepath.Join(h.overrideDir, filepath.Base(r.URL.Path))
		if fileExists(path) {
			http.ServeFile(w, r, path)
			return
		}
	}
	h.fallback.ServeHTTP(w, r)
}

func (s *Server) customIndex() (string, bool) {
	if s.cfg.StaticDir == "" {
		return "", false
	}
	path := filepath.Join(s.cfg.StaticDir, "index.html")
	return path, fileExists(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
