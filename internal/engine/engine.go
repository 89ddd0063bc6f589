// Package engine is the narrow view of the container engine the bridge needs.
// Components receive an Engine explicitly; Docker is the production adapter.
package engine

import (
	"context"
	"io"
	"time"
)

type Engine interface {
	Ping(ctx context.Context) error

	InspectContainer(ctx context.Context, ref string) (ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerSummary, error)
	InspectVolume(ctx context.Context, name string) (VolumeInfo, error)

	// ContainerLogs returns the raw log body. For containers without a TTY the
	// body is frame multiplexed.
	ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error)

	// Exec runs cmd to completion without stdin and collects its output.
	Exec(ctx context.Context, id string, cfg ExecConfig) (ExecResult, error)
	// AttachExec starts an interactive exec with stdin attached and no TTY and
	// returns the hijacked connection. Reads yield frame multiplexed output.
	AttachExec(ctx context.Context, id string, cfg ExecConfig) (Conn, error)

	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	WaitContainer(ctx context.Context, id string) (int64, error)
	RemoveContainer(ctx context.Context, id string) error

	// CopyFromContainer returns a tar stream of path.
	CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error)
	// ContainerStats returns a single stats document including the previous
	// CPU sample.
	ContainerStats(ctx context.Context, id string) (io.ReadCloser, error)

	EnsureImage(ctx context.Context, ref string) error
	Close() error
}

type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Running bool
	TTY     bool
	Mounts  []Mount
}

// MountFor returns the mount backed by the named volume.
func (c ContainerInfo) MountFor(volume string) (Mount, bool) {
	for _, m := range c.Mounts {
		if m.Type == MountVolume && m.Name == volume {
			return m, true
		}
	}
	return Mount{}, false
}

type ContainerSummary struct {
	ID      string
	Names   []string
	Image   string
	State   string
	Labels  map[string]string
	Created time.Time
}

func (c ContainerSummary) Running() bool {
	return c.State == "running"
}

type MountType string

const (
	MountBind   MountType = "bind"
	MountVolume MountType = "volume"
)

type Mount struct {
	Type        MountType
	Name        string
	Source      string
	Destination string
	ReadOnly    bool
}

type VolumeInfo struct {
	Name       string
	Driver     string
	Mountpoint string
}

type ListOptions struct {
	All    bool
	Labels []string
	// Volume restricts the result to containers mounting the named volume.
	Volume string
}

type LogOptions struct {
	Follow bool
	// Tail is a line count or "all".
	Tail   string
	Stdout bool
	Stderr bool
}

type ExecConfig struct {
	Cmd        []string
	WorkingDir string
	Env        []string
}

type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Conn is a hijacked exec connection.
type Conn interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

type MountSpec struct {
	Type     MountType
	Source   string
	Target   string
	ReadOnly bool
}

type ContainerSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Cmd        []string
	WorkingDir string
	User       string
	Mounts     []MountSpec
	Labels     map[string]string
}
