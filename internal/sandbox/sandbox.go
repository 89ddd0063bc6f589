// Package sandbox lists, reads and downloads paths inside containers and
// volumes. Running containers are queried in place; stopped containers go
// through the engine archive call; volumes nobody mounts are reached through
// short-lived helper containers.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/sdd/internal/concurrency"
	"github.com/harunnryd/sdd/internal/engine"
	sddErrors "github.com/harunnryd/sdd/internal/errors"

	"github.com/natefinch/atomic"
)

type TargetKind string

const (
	TargetContainer TargetKind = "container"
	TargetVolume    TargetKind = "volume"
)

type Target struct {
	Kind TargetKind
	ID   string
}

func ContainerTarget(id string) Target { return Target{Kind: TargetContainer, ID: id} }
func VolumeTarget(name string) Target  { return Target{Kind: TargetVolume, ID: name} }

type Download struct {
	Name   string
	Data   []byte
	Zipped bool
}

type route int

const (
	routeResident route = iota
	routeArchive
	routeHelper
)

func (r route) String() string {
	switch r {
	case routeResident:
		return "resident"
	case routeArchive:
		return "archive"
	default:
		return "helper"
	}
}

// resolved is where an operation runs: inside container (resident/archive)
// at root, or in a helper with volume mounted at root.
type resolved struct {
	route     route
	container string
	volume    string
	root      string
}

func (r resolved) join(p string) string {
	return path.Join(r.root, path.Clean("/"+p))
}

const (
	DefaultHelperImage  = "busybox:stable"
	DefaultArchiveImage = "kramos/alpine-zip:latest"
	DefaultMountPoint   = "/mnt/target"

	outMount = "/out"
)

type Options struct {
	HelperImage  string
	ArchiveImage string
	ScratchDir   string
	MountPoint   string
	LaunchRate   float64
	LaunchBurst  int
	JobTimeout   time.Duration
	// Owner is the uid:gid downloaded artifacts are chowned to; defaults to
	// the running process.
	Owner string
}

type Sandbox struct {
	eng     engine.Engine
	opts    Options
	helpers *helperRunner
	scratch *ScratchManager
	// one download per target at a time keeps scratch usage bounded
	locks *concurrency.KeyedMutex
}

func New(eng engine.Engine, opts Options) (*Sandbox, error) {
	if opts.HelperImage == "" {
		opts.HelperImage = DefaultHelperImage
	}
	if opts.ArchiveImage == "" {
		opts.ArchiveImage = DefaultArchiveImage
	}
	if opts.MountPoint == "" {
		opts.MountPoint = DefaultMountPoint
	}
	if opts.Owner == "" {
		opts.Owner = strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid())
	}

	scratch, err := NewScratchManager(opts.ScratchDir)
	if err != nil {
		return nil, err
	}

	return &Sandbox{
		eng:     eng,
		opts:    opts,
		helpers: newHelperRunner(eng, opts.LaunchRate, opts.LaunchBurst, opts.JobTimeout),
		scratch: scratch,
		locks:   concurrency.NewKeyedMutex(),
	}, nil
}

// Warm pulls the helper and archive images so the first download does not
// pay for the pull.
func (s *Sandbox) Warm(ctx context.Context) error {
	for _, image := range []string{s.opts.HelperImage, s.opts.ArchiveImage} {
		if err := s.helpers.ensureImage(ctx, image); err != nil {
			return err
		}
	}
	return nil
}

// Scratch exposes the scratch manager for housekeeping.
func (s *Sandbox) Scratch() *ScratchManager {
	return s.scratch
}

func (s *Sandbox) resolve(ctx context.Context, t Target) (resolved, error) {
	switch t.Kind {
	case TargetContainer:
		info, err := s.eng.InspectContainer(ctx, t.ID)
		if err != nil {
			return resolved{}, sddErrors.FromEngine(err, sddErrors.ResourceContainer, t.ID)
		}
		if info.Running {
			return resolved{route: routeResident, container: info.ID, root: "/"}, nil
		}
		return resolved{route: routeArchive, container: info.ID, root: "/"}, nil

	case TargetVolume:
		vol, err := s.eng.InspectVolume(ctx, t.ID)
		if err != nil {
			return resolved{}, sddErrors.FromEngine(err, sddErrors.ResourceVolume, t.ID)
		}

		holders, err := s.eng.ListContainers(ctx, engine.ListOptions{Volume: vol.Name})
		if err != nil {
			return resolved{}, sddErrors.FromEngine(err, sddErrors.ResourceVolume, t.ID)
		}
		for _, c := range holders {
			if !c.Running() {
				continue
			}
			info, err := s.eng.InspectContainer(ctx, c.ID)
			if err != nil {
				continue
			}
			if m, ok := info.MountFor(vol.Name); ok && info.Running {
				return resolved{route: routeResident, container: info.ID, volume: vol.Name, root: m.Destination}, nil
			}
		}
		return resolved{route: routeHelper, volume: vol.Name, root: s.opts.MountPoint}, nil

	default:
		return resolved{}, sddErrors.InvalidInput(fmt.Sprintf("unknown target kind %q", t.Kind))
	}
}

func (s *Sandbox) volumeMount(r resolved) engine.MountSpec {
	return engine.MountSpec{Type: engine.MountVolume, Source: r.volume, Target: s.opts.MountPoint, ReadOnly: true}
}

// List returns the entries of the directory at p.
func (s *Sandbox) List(ctx context.Context, t Target, p string) ([]DirEntry, error) {
	r, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	full := r.join(p)
	slog.Debug("Listing path", "component", "sandbox", "target", t.ID, "path", full, "route", r.route)

	var lines []string
	switch r.route {
	case routeResident:
		out, err := s.execChecked(ctx, r.container, listCmd(full), p)
		if err != nil {
			return nil, err
		}
		lines = splitListing(out)

	case routeArchive:
		rc, err := s.copyFollow(ctx, r.container, full, p)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		lines, err = tarListing(rc, full)
		if err != nil {
			return nil, sddErrors.InvalidPath(p, err)
		}

	case routeHelper:
		res, err := s.helpers.RunChecked(ctx, Job{
			Op:     "ls",
			Image:  s.opts.HelperImage,
			Cmd:    listCmd(full),
			Mounts: []engine.MountSpec{s.volumeMount(r)},
		}, p)
		if err != nil {
			return nil, err
		}
		lines = splitListing(res.Stdout)
	}

	entries := Classify(lines)
	for i := range entries {
		// a file operand is echoed back as the path given
		if strings.Contains(entries[i].Name, "/") {
			entries[i].Name = path.Base(entries[i].Name)
		}
	}
	return entries, nil
}

// listCmd follows a symlink given as the operand, so /lib on a merged-usr
// image lists /usr/lib instead of the link.
func listCmd(full string) []string {
	return []string{"ls", "-1AFH", "--", full}
}

// Cat returns the content of the file at p.
func (s *Sandbox) Cat(ctx context.Context, t Target, p string) ([]byte, error) {
	r, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	full := r.join(p)

	switch r.route {
	case routeResident:
		return s.execChecked(ctx, r.container, []string{"cat", "--", full}, p)

	case routeArchive:
		rc, err := s.copyFollow(ctx, r.container, full, p)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := tarFileContent(rc)
		if err != nil {
			return nil, sddErrors.InvalidPath(p, err)
		}
		return data, nil

	default:
		res, err := s.helpers.RunChecked(ctx, Job{
			Op:     "cat",
			Image:  s.opts.HelperImage,
			Cmd:    []string{"cat", "--", full},
			Mounts: []engine.MountSpec{s.volumeMount(r)},
		}, p)
		if err != nil {
			return nil, err
		}
		return res.Stdout, nil
	}
}

// Download returns the bytes at p; directories are zipped, files returned
// as-is. Every temporary artifact is gone by the time it returns.
func (s *Sandbox) Download(ctx context.Context, t Target, p string) (*Download, error) {
	r, err := s.resolve(ctx, t)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(string(t.Kind) + ":" + t.ID)
	defer unlock()

	sc, err := s.scratch.Setup()
	if err != nil {
		return nil, sddErrors.EngineCallFailed("prepare scratch", err)
	}
	defer func() {
		if err := s.scratch.Teardown(sc.ID); err != nil {
			slog.Warn("Scratch cleanup failed", "component", "sandbox", "scratch_id", sc.ID, "error", err)
		}
	}()

	full := r.join(p)
	if r.route == routeHelper {
		return s.downloadViaHelpers(ctx, r, sc, full, p)
	}
	return s.downloadViaArchive(ctx, r, sc, full, p)
}

func (s *Sandbox) downloadViaArchive(ctx context.Context, r resolved, sc *Scratch, full, p string) (*Download, error) {
	rc, err := s.copyFollow(ctx, r.container, full, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	bundle := filepath.Join(sc.RootPath, "bundle.tar")
	if err := atomic.WriteFile(bundle, rc); err != nil {
		return nil, sddErrors.EngineCallFailed("persist archive", err)
	}

	f, err := os.Open(bundle)
	if err != nil {
		return nil, sddErrors.EngineCallFailed("open archive", err)
	}
	defer f.Close()

	extractDir := filepath.Join(sc.RootPath, "extract")
	root, isDir, err := extractTar(f, extractDir)
	if err != nil {
		return nil, sddErrors.InvalidPath(p, err)
	}

	rootPath, err := safeJoin(extractDir, root)
	if err != nil {
		return nil, sddErrors.InvalidPath(p, err)
	}

	if isDir {
		data, err := zipDir(rootPath)
		if err != nil {
			return nil, sddErrors.EngineCallFailed("zip directory", err)
		}
		return &Download{Name: downloadName(p, true), Data: data, Zipped: true}, nil
	}

	data, err := os.ReadFile(rootPath)
	if err != nil {
		return nil, sddErrors.EngineCallFailed("read extracted file", err)
	}
	return &Download{Name: downloadName(p, false), Data: data}, nil
}

func (s *Sandbox) downloadViaHelpers(ctx context.Context, r resolved, sc *Scratch, full, p string) (*Download, error) {
	volume := s.volumeMount(r)
	out := engine.MountSpec{Type: engine.MountBind, Source: sc.RootPath, Target: outMount}

	probe, err := s.helpers.Run(ctx, Job{
		Op:     "test",
		Image:  s.opts.HelperImage,
		Cmd:    []string{"test", "-d", full},
		Mounts: []engine.MountSpec{volume},
	})
	if err != nil {
		return nil, err
	}
	isDir := probe.ExitCode == 0

	artifact := "artifact"
	if isDir {
		artifact = "artifact.zip"
		_, err = s.helpers.RunChecked(ctx, Job{
			Op:         "zip",
			Image:      s.opts.ArchiveImage,
			Entrypoint: []string{"zip"},
			Cmd:        []string{"-qr", path.Join(outMount, artifact), path.Base(full)},
			WorkingDir: path.Dir(full),
			Mounts:     []engine.MountSpec{volume, out},
		}, p)
	} else {
		_, err = s.helpers.RunChecked(ctx, Job{
			Op:     "copy",
			Image:  s.opts.HelperImage,
			Cmd:    []string{"cp", "--", full, path.Join(outMount, artifact)},
			Mounts: []engine.MountSpec{volume, out},
		}, p)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.helpers.RunChecked(ctx, Job{
		Op:     "chown",
		Image:  s.opts.HelperImage,
		Cmd:    []string{"chown", "-R", s.opts.Owner, outMount},
		Mounts: []engine.MountSpec{out},
	}, p); err != nil {
		return nil, err
	}

	artifactPath := filepath.Join(sc.RootPath, artifact)
	defer os.Remove(artifactPath)

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, sddErrors.InvalidPath(p, err)
	}
	return &Download{Name: downloadName(p, isDir), Data: data, Zipped: isDir}, nil
}

func (s *Sandbox) execChecked(ctx context.Context, containerID string, cmd []string, p string) ([]byte, error) {
	res, err := s.eng.Exec(ctx, containerID, engine.ExecConfig{Cmd: cmd})
	if err != nil {
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, containerID)
	}
	if res.ExitCode != 0 {
		return nil, sddErrors.InvalidPath(p, fmt.Errorf("%s exited %d: %s", cmd[0], res.ExitCode, res.Stderr))
	}
	return res.Stdout, nil
}

func (s *Sandbox) copyFrom(ctx context.Context, containerID, full, p string) (io.ReadCloser, error) {
	rc, err := s.eng.CopyFromContainer(ctx, containerID, full)
	if err != nil {
		// The container was resolved a moment ago, so a miss is the path.
		if errors.Is(err, sddErrors.ErrNotFound) {
			return nil, sddErrors.InvalidPath(p, err)
		}
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, containerID)
	}
	return rc, nil
}

const maxLinkHops = 8

type readCloser struct {
	io.Reader
	io.Closer
}

// copyFollow is copyFrom for a path that may itself be a symlink. The link
// is resolved against the container root and the target copied instead.
func (s *Sandbox) copyFollow(ctx context.Context, containerID, full, p string) (io.ReadCloser, error) {
	for hop := 0; ; hop++ {
		rc, err := s.copyFrom(ctx, containerID, full, p)
		if err != nil {
			return nil, err
		}

		var head bytes.Buffer
		hdr, err := tar.NewReader(io.TeeReader(rc, &head)).Next()
		if err != nil || hdr.Typeflag != tar.TypeSymlink {
			return readCloser{io.MultiReader(&head, rc), rc}, nil
		}
		rc.Close()

		if hop == maxLinkHops {
			return nil, sddErrors.InvalidPath(p, fmt.Errorf("too many levels of symbolic links"))
		}
		target := hdr.Linkname
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(full), target)
		}
		slog.Debug("Following symlink", "component", "sandbox", "path", full, "target", target)
		full = path.Clean(target)
	}
}
