package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
	"github.com/devkade/hackathon-starter/internal/port/cache"
	"github.com/devkade/hackathon-starter/internal/port/database"
	"github.com/devkade/hackathon-starter/internal/port/sandbox"
)

const (
	maxTreeDepth    = 16
	maxTreeNodes    = 5000
	listConcurrency = 8
)

// FileService exposes the files on a conversation's volume.
type FileService struct {
	store    database.Store
	provider sandbox.Provider
	cache    cache.Cache
	ttl      time.Duration
}

// NewFileService creates a new FileService.
func NewFileService(store database.Store, provider sandbox.Provider) *FileService {
	return &FileService{store: store, provider: provider}
}

// SetCache enables caching of file trees for ttl.
func (s *FileService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.ttl = ttl
}

func fileTreeKey(id string) string { return "filetree:" + id }

// Tree returns the volume's file tree, directories first.
func (s *FileService) Tree(ctx context.Context, conversationID string) ([]*volume.FileNode, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	key := fileTreeKey(conversationID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var nodes []*volume.FileNode
			if err := json.Unmarshal(data, &nodes); err == nil {
				return nodes, nil
			}
		}
	}

	nodes, err := s.walk(ctx, c.VolumeID)
	if err != nil {
		return nil, err
	}
	volume.SortNodes(nodes)

	if s.cache != nil && s.ttl > 0 {
		if data, err := json.Marshal(nodes); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Debug("cache file tree failed", "conversation_id", conversationID, "error", err)
			}
		}
	}
	return nodes, nil
}

// walk lists the volume breadth first, one directory level at a time, with
// up to listConcurrency listings in flight. At most maxTreeNodes entries,
// files and directories alike, end up in the tree.
func (s *FileService) walk(ctx context.Context, volumeID string) ([]*volume.FileNode, error) {
	root := &volume.FileNode{Type: volume.TypeDirectory}
	level := []*volume.FileNode{root}

	var mu sync.Mutex
	total := 0

	for depth := 0; len(level) > 0 && depth < maxTreeDepth; depth++ {
		var next []*volume.FileNode

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(listConcurrency)
		for _, dir := range level {
			g.Go(func() error {
				infos, err := s.provider.ListDir(gctx, volumeID, dir.Path)
				if err != nil {
					if dir != root && isNotFound(err) {
						// Removed between listings.
						return nil
					}
					return fmt.Errorf("list %q: %w", dir.Path, err)
				}

				mu.Lock()
				defer mu.Unlock()
				if room := maxTreeNodes - total; len(infos) > room {
					infos = infos[:max(room, 0)]
				}
				total += len(infos)

				children := make([]*volume.FileNode, 0, len(infos))
				for _, fi := range infos {
					p := fi.Path
					if p == "" {
						p = path.Join(dir.Path, fi.Name)
					}
					n := &volume.FileNode{Name: fi.Name, Type: fi.Type, Size: fi.Size, Path: p}
					children = append(children, n)
					if n.Type == volume.TypeDirectory {
						next = append(next, n)
					}
				}
				dir.Children = children
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if isNotFound(err) {
				return []*volume.FileNode{}, nil
			}
			return nil, err
		}

		if total >= maxTreeNodes {
			break
		}
		level = next
	}

	if root.Children == nil {
		return []*volume.FileNode{}, nil
	}
	return root.Children, nil
}

// Read returns the raw contents of a file on the conversation's volume.
func (s *FileService) Read(ctx context.Context, conversationID, filePath string) ([]byte, error) {
	cleaned, err := volume.CleanPath(filePath)
	if err != nil {
		return nil, err
	}
	if cleaned == "" || cleaned == "." {
		return nil, fmt.Errorf("%w: path is required", domain.ErrValidation)
	}

	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	data, err := s.provider.ReadFile(ctx, c.VolumeID, cleaned)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cleaned, err)
	}
	return data, nil
}
