package http

import (
	"net/http"
	"path"
	"strconv"

	"github.com/devkade/hackathon-starter/internal/domain/volume"
)

// ListFiles handles GET /conversations/{id}/files
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Files.Tree(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if tree == nil {
		tree = []*volume.FileNode{}
	}
	writeJSON(w, http.StatusOK, tree)
}

// ReadFile handles GET /conversations/{id}/files/*
func (h *Handlers) ReadFile(w http.ResponseWriter, r *http.Request) {
	filePath := urlParam(r, "*")
	data, err := h.Files.Read(r.Context(), urlParam(r, "id"), filePath)
	if err != nil {
		writeDomainError(w, err, "file not found")
		return
	}

	w.Header().Set("Content-Type", contentType(filePath, data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `inline; filename="`+sanitizeFilename(path.Base(filePath))+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// contentType prefers the extension and falls back to sniffing.
func contentType(name string, data []byte) string {
	switch path.Ext(name) {
	case ".json", ".jsonl":
		return "application/json"
	case ".md", ".txt", ".go", ".py", ".ts", ".js", ".yaml", ".yml", ".toml", ".sh":
		return "text/plain; charset=utf-8"
	}
	return http.DetectContentType(data)
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r < 0x20 || r == '"' || r == '\\' || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
