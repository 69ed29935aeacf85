// Package sandbox defines the port to the remote sandbox and volume provider.
package sandbox

import (
	"context"
	"time"

	"github.com/devkade/hackathon-starter/internal/domain/volume"
)

// Spec describes a sandbox to create.
type Spec struct {
	Template  string            // provider template or image running the agent
	VolumeID  string            // persistent volume to mount
	MountPath string            // mount point of the volume inside the sandbox
	Env       map[string]string // environment for the agent process
	Timeout   time.Duration     // wall-clock budget enforced by the provider
	Labels    map[string]string
}

// Provider creates and destroys remote sandboxes and their volumes, relays
// stdin into running sandboxes, and reads volume contents.
// Missing volumes, sandboxes or files are reported as domain.ErrNotFound.
type Provider interface {
	CreateVolume(ctx context.Context, name string) (volumeID string, err error)
	DeleteVolume(ctx context.Context, volumeID string) error

	CreateSandbox(ctx context.Context, spec Spec) (sandboxID string, err error)
	WriteStdin(ctx context.Context, sandboxID string, data []byte) error
	KillSandbox(ctx context.Context, sandboxID string) error

	ListDir(ctx context.Context, volumeID, dir string) ([]volume.FileInfo, error)
	ReadFile(ctx context.Context, volumeID, path string) ([]byte, error)
}
