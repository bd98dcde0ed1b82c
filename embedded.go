package main

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed assets/web
var embeddedFiles embed.FS

// webAssets returns the embedded pages rooted at assets/web.
func webAssets() fs.FS {
	sub, err := fs.Sub(embeddedFiles, "assets/web")
	if err != nil {
		panic(err)
	}
	return sub
}

// servePage writes one embedded HTML page.
func servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := fs.ReadFile(webAssets(), name)
		if err != nil {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}
