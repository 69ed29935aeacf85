// Package volume describes files stored on a conversation's persistent volume.
package volume

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain"
)

// FileType distinguishes files from directories.
type FileType string

const (
	TypeFile      FileType = "file"
	TypeDirectory FileType = "directory"
)

// FileInfo is one directory entry as reported by the volume provider.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Type    FileType  `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// FileNode is a node of the file tree served to clients.
type FileNode struct {
	Name     string      `json:"name"`
	Type     FileType    `json:"type"`
	Size     int64       `json:"size"`
	Path     string      `json:"path"`
	Children []*FileNode `json:"children,omitempty"`
}

// CleanPath normalizes a client-supplied path relative to the volume root
// and rejects attempts to escape it.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: invalid path", domain.ErrValidation)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(p, `\`, "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: path must not contain '..'", domain.ErrValidation)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	return cleaned, nil
}

// SortNodes orders directories before files, then by name, recursively.
func SortNodes(nodes []*FileNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == TypeDirectory
		}
		return nodes[i].Name < nodes[j].Name
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			SortNodes(n.Children)
		}
	}
}
