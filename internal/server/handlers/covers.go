package handlers

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/shelflife/internal/storage"
)

// CoverHandler serves a stored cover image by file name.
func CoverHandler(covers *storage.Covers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := covers.Open(chi.URLParam(r, "name"))
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, "Failed to open cover", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			http.Error(w, "Failed to open cover", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
