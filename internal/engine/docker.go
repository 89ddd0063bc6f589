package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	sddErrors "github.com/harunnryd/sdd/internal/errors"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Docker adapts the Docker Engine API client to Engine.
type Docker struct {
	cli *client.Client
}

type DockerOptions struct {
	Host       string
	APIVersion string
}

func NewDocker(opts DockerOptions) (*Docker, error) {
	clientOpts := []client.Opt{
		client.FromEnv,
	}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.APIVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// wrap tags engine "not found" responses with ErrNotFound so callers can map
// them without importing the vendor error helpers.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w: %v", op, sddErrors.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return wrap("ping", err)
}

func (d *Docker) InspectContainer(ctx context.Context, ref string) (ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, ref)
	if err != nil {
		return ContainerInfo{}, wrap("inspect container", err)
	}

	info := ContainerInfo{
		ID:   resp.ID,
		Name: strings.TrimPrefix(resp.Name, "/"),
	}
	if resp.State != nil {
		info.Running = resp.State.Running
	}
	if resp.Config != nil {
		info.TTY = resp.Config.Tty
		info.Image = resp.Config.Image
	}
	for _, m := range resp.Mounts {
		info.Mounts = append(info.Mounts, Mount{
			Type:        MountType(m.Type),
			Name:        m.Name,
			Source:      m.Source,
			Destination: m.Destination,
			ReadOnly:    !m.RW,
		})
	}
	return info, nil
}

func (d *Docker) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerSummary, error) {
	args := filters.NewArgs()
	for _, label := range opts.Labels {
		args.Add("label", label)
	}
	if opts.Volume != "" {
		args.Add("volume", opts.Volume)
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: opts.All, Filters: args})
	if err != nil {
		return nil, wrap("list containers", err)
	}

	out := make([]ContainerSummary, 0, len(list))
	for _, c := range list {
		names := make([]string, 0, len(c.Names))
		for _, n := range c.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
		out = append(out, ContainerSummary{
			ID:      c.ID,
			Names:   names,
			Image:   c.Image,
			State:   string(c.State),
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

func (d *Docker) InspectVolume(ctx context.Context, name string) (VolumeInfo, error) {
	vol, err := d.cli.VolumeInspect(ctx, name)
	if err != nil {
		return VolumeInfo{}, wrap("inspect volume", err)
	}
	return VolumeInfo{Name: vol.Name, Driver: vol.Driver, Mountpoint: vol.Mountpoint}, nil
}

func (d *Docker) ContainerLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	tail := opts.Tail
	if tail == "" {
		tail = "all"
	}
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: opts.Stdout,
		ShowStderr: opts.Stderr,
		Follow:     opts.Follow,
		Tail:       tail,
	})
	if err != nil {
		return nil, wrap("container logs", err)
	}
	return rc, nil
}

func (d *Docker) Exec(ctx context.Context, id string, cfg ExecConfig) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cfg.Cmd,
		WorkingDir:   cfg.WorkingDir,
		Env:          cfg.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, wrap("exec create", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrap("exec attach", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return ExecResult{}, fmt.Errorf("exec read output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, wrap("exec inspect", err)
	}

	return ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (d *Docker) AttachExec(ctx context.Context, id string, cfg ExecConfig) (Conn, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cfg.Cmd,
		WorkingDir:   cfg.WorkingDir,
		Env:          cfg.Env,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	})
	if err != nil {
		return nil, wrap("exec create", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: false})
	if err != nil {
		return nil, wrap("exec attach", err)
	}
	return &hijackedConn{resp: attach}, nil
}

type hijackedConn struct {
	resp types.HijackedResponse
}

func (c *hijackedConn) Read(p []byte) (int, error)  { return c.resp.Reader.Read(p) }
func (c *hijackedConn) Write(p []byte) (int, error) { return c.resp.Conn.Write(p) }
func (c *hijackedConn) CloseWrite() error           { return c.resp.CloseWrite() }

func (c *hijackedConn) Close() error {
	c.resp.Close()
	return nil
}

func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Entrypoint: spec.Entrypoint,
			Cmd:        spec.Cmd,
			WorkingDir: spec.WorkingDir,
			User:       spec.User,
			Labels:     spec.Labels,
		},
		&container.HostConfig{
			Mounts:      mounts,
			NetworkMode: "none",
		},
		nil, nil, spec.Name,
	)
	if err != nil {
		return "", wrap("container create", err)
	}
	for _, w := range resp.Warnings {
		slog.Debug("Container create warning", "component", "engine", "warning", w)
	}
	return resp.ID, nil
}

func (d *Docker) StartContainer(ctx context.Context, id string) error {
	return wrap("container start", d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *Docker) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		return -1, wrap("container wait", err)
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (d *Docker) RemoveContainer(ctx context.Context, id string) error {
	return wrap("container remove", d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *Docker) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, wrap("copy from container", err)
	}
	return rc, nil
}

func (d *Docker) ContainerStats(ctx context.Context, id string) (io.ReadCloser, error) {
	stats, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, wrap("container stats", err)
	}
	return stats.Body, nil
}

// EnsureImage pulls ref unless it is already present locally.
func (d *Docker) EnsureImage(ctx context.Context, ref string) error {
	images, err := d.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return wrap("image list", err)
	}
	if len(images) > 0 {
		return nil
	}

	slog.Info("Pulling helper image", "component", "engine", "image", ref)
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return wrap("image pull", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull %s: %w", ref, err)
	}
	return nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}
