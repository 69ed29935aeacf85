package service

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
	"github.com/devkade/hackathon-starter/internal/port/database"
	"github.com/devkade/hackathon-starter/internal/port/sandbox"
)

var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store.
type mockStore struct {
	mu    sync.Mutex
	convs map[string]conversation.Conversation
	now   func() time.Time

	// Error hooks; set these to inject failures.
	createErr error
	updateErr error

	updates int
}

func newMockStore() *mockStore {
	return &mockStore{
		convs: make(map[string]conversation.Conversation),
		now:   func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) },
	}
}

func (m *mockStore) put(c conversation.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Version == 0 {
		c.Version = 1
	}
	m.convs[c.ID] = c
}

func (m *mockStore) get(id string) (conversation.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	return c, ok
}

func (m *mockStore) CreateConversation(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.convs[c.ID]; ok {
		return domain.ErrConflict
	}
	c.Version = 1
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.convs[c.ID] = *c
	return nil
}

func (m *mockStore) GetConversation(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("get conversation %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (m *mockStore) UpdateConversation(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	old, ok := m.convs[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	m.updates++
	c.VolumeID = old.VolumeID
	c.CreatedAt = old.CreatedAt
	c.Version = old.Version + 1
	c.UpdatedAt = m.now()
	m.convs[c.ID] = *c
	return nil
}

func (m *mockStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.convs, id)
	return nil
}

func (m *mockStore) ListStaleRunning(_ context.Context, before time.Time) ([]conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range m.convs {
		if c.Status == conversation.StatusRunning && c.UpdatedAt.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

var _ sandbox.Provider = (*fakeProvider)(nil)

type fakeSandbox struct {
	spec   sandbox.Spec
	stdin  [][]byte
	killed bool
}

// fakeProvider is an in-memory sandbox.Provider with volumes backed by maps.
type fakeProvider struct {
	mu        sync.Mutex
	volumes   map[string]map[string][]byte // volume -> path -> content
	modTimes  map[string]time.Time         // volume/path -> mtime
	sandboxes map[string]*fakeSandbox
	order     []string // sandbox IDs in creation order
	nextVol   int
	nextSb    int

	createVolumeErr  error
	createSandboxErr error
	stdinErr         map[string]error // by sandbox ID
	killErr          error
	volumeDeletes    []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		volumes:   make(map[string]map[string][]byte),
		modTimes:  make(map[string]time.Time),
		sandboxes: make(map[string]*fakeSandbox),
		stdinErr:  make(map[string]error),
	}
}

func (f *fakeProvider) addFile(volumeID, p string, data []byte, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumes[volumeID] == nil {
		f.volumes[volumeID] = make(map[string][]byte)
	}
	f.volumes[volumeID][p] = data
	f.modTimes[volumeID+"/"+p] = mtime
}

func (f *fakeProvider) getSandbox(id string) *fakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sandboxes[id]
}

func (f *fakeProvider) sandboxCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sandboxes)
}

func (f *fakeProvider) volumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextVol
}

func (f *fakeProvider) CreateVolume(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createVolumeErr != nil {
		return "", f.createVolumeErr
	}
	f.nextVol++
	id := fmt.Sprintf("vol-%d", f.nextVol)
	f.volumes[id] = make(map[string][]byte)
	return id, nil
}

func (f *fakeProvider) DeleteVolume(_ context.Context, volumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumeDeletes = append(f.volumeDeletes, volumeID)
	delete(f.volumes, volumeID)
	return nil
}

func (f *fakeProvider) CreateSandbox(_ context.Context, spec sandbox.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createSandboxErr != nil {
		return "", f.createSandboxErr
	}
	f.nextSb++
	id := fmt.Sprintf("sb-%d", f.nextSb)
	f.sandboxes[id] = &fakeSandbox{spec: spec}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeProvider) WriteStdin(_ context.Context, sandboxID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stdinErr[sandboxID]; err != nil {
		return err
	}
	sb, ok := f.sandboxes[sandboxID]
	if !ok || sb.killed {
		return domain.ErrNotFound
	}
	sb.stdin = append(sb.stdin, data)
	return nil
}

func (f *fakeProvider) KillSandbox(_ context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sb, ok := f.sandboxes[sandboxID]; ok {
		sb.killed = true
	}
	return f.killErr
}

func (f *fakeProvider) ListDir(_ context.Context, volumeID, dir string) ([]volume.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.volumes[volumeID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}
	seen := make(map[string]volume.FileInfo)
	for p, data := range files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if nested {
			seen[name] = volume.FileInfo{Name: name, Path: path.Join(dir, name), Type: volume.TypeDirectory}
			continue
		}
		seen[name] = volume.FileInfo{
			Name:    name,
			Path:    p,
			Type:    volume.TypeFile,
			Size:    int64(len(data)),
			ModTime: f.modTimes[volumeID+"/"+p],
		}
	}
	if dir != "" && len(seen) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]volume.FileInfo, 0, len(seen))
	for _, fi := range seen {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeProvider) ReadFile(_ context.Context, volumeID, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.volumes[volumeID][p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, domain.ErrNotFound)
	}
	return data, nil
}

// mockBroadcaster captures BroadcastEvent calls for verification.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	eventType string
	payload   any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastEvent{eventType: eventType, payload: payload})
}

// mockPublisher captures published messages.
type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockPublisher) Close() error { return nil }
