package services

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerBackend implements SandboxBackend on a local Docker daemon, for
// development and tests against real containers. Each session is a
// persistent container named after the session id with the workspace
// bind-mounted from the host, so file operations are plain host filesystem
// access and AttachSession works across process restarts.
type DockerBackend struct {
	client *client.Client
	config DockerConfig
}

// DockerConfig configures the local docker backend.
type DockerConfig struct {
	Host             string // Docker host (empty = default)
	Image            string
	Workdir          string
	WorkspaceBaseDir string // host directory holding per-session workspaces
	ExecTimeout      time.Duration
	MaxOutputBytes   int
}

func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:            "ubuntu:24.04",
		Workdir:          "/workspace",
		WorkspaceBaseDir: "/tmp/drydock-workspaces",
		ExecTimeout:      2 * time.Minute,
		MaxOutputBytes:   1024 * 1024,
	}
}

func NewDockerBackend(cfg DockerConfig) (*DockerBackend, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	def := DefaultDockerConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.Workdir == "" {
		cfg.Workdir = def.Workdir
	}
	if cfg.WorkspaceBaseDir == "" {
		cfg.WorkspaceBaseDir = def.WorkspaceBaseDir
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = def.ExecTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}

	if err := os.MkdirAll(cfg.WorkspaceBaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base dir: %w", err)
	}

	return &DockerBackend{client: cli, config: cfg}, nil
}

func (b *DockerBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Ping(ctx); err != nil {
		return &SandboxError{Op: "Ping", Err: fmt.Errorf("docker not available: %w", err)}
	}
	return nil
}

func (b *DockerBackend) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	sessionID := "sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	workspacePath := filepath.Join(b.config.WorkspaceBaseDir, sessionID)

	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return nil, &SandboxError{Op: "CreateSession", Session: sessionID, Err: fmt.Errorf("create workspace: %w", err)}
	}

	image := opts.Image
	if image == "" {
		image = b.config.Image
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = b.config.Workdir
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerConfig := &container.Config{
		Image:      image,
		WorkingDir: workdir,
		Env:        env,
		Cmd:        []string{"sleep", "infinity"},
		Labels: map[string]string{
			"drydock.owner":   opts.OwnerID,
			"drydock.workdir": workdir,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspacePath,
			Target: workdir,
		}},
		NetworkMode: "none",
	}
	if opts.MemoryMB > 0 {
		hostConfig.Resources.Memory = int64(opts.MemoryMB) * 1024 * 1024
	}
	if opts.CPUs > 0 {
		hostConfig.Resources.NanoCPUs = int64(opts.CPUs) * 1e9
	}

	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, sessionID)
	if err != nil {
		os.RemoveAll(workspacePath)
		return nil, &SandboxError{Op: "CreateSession", Session: sessionID, Err: fmt.Errorf("create container: %w", err)}
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		os.RemoveAll(workspacePath)
		return nil, &SandboxError{Op: "CreateSession", Session: sessionID, Err: fmt.Errorf("start container: %w", err)}
	}

	now := time.Now()
	return &Session{
		ID:         sessionID,
		OwnerID:    opts.OwnerID,
		Image:      image,
		Workdir:    workdir,
		Env:        opts.Env,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func (b *DockerBackend) AttachSession(ctx context.Context, sessionID string) (*Session, error) {
	inspect, err := b.client.ContainerInspect(ctx, sessionID)
	if err != nil {
		return nil, &SandboxError{
			Op:      "AttachSession",
			Session: sessionID,
			Err:     fmt.Errorf("inspect container: %w: %w", ErrSessionUnavailable, err),
		}
	}
	if !inspect.State.Running {
		return nil, &SandboxError{
			Op:      "AttachSession",
			Session: sessionID,
			Err:     fmt.Errorf("container state %s: %w", inspect.State.Status, ErrSessionUnavailable),
		}
	}

	workdir := inspect.Config.Labels["drydock.workdir"]
	if workdir == "" {
		workdir = b.config.Workdir
	}

	now := time.Now()
	return &Session{
		ID:         sessionID,
		OwnerID:    inspect.Config.Labels["drydock.owner"],
		Image:      inspect.Config.Image,
		Workdir:    workdir,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func (b *DockerBackend) DestroySession(ctx context.Context, sessionID string) error {
	timeout := 10
	_ = b.client.ContainerStop(ctx, sessionID, container.StopOptions{Timeout: &timeout})
	if err := b.client.ContainerRemove(ctx, sessionID, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return &SandboxError{Op: "DestroySession", Session: sessionID, Err: err}
		}
	}

	os.RemoveAll(filepath.Join(b.config.WorkspaceBaseDir, sessionID))
	return nil
}

func (b *DockerBackend) Exec(ctx context.Context, sessionID string, req ExecRequest) (*ExecResult, error) {
	if _, err := b.AttachSession(ctx, sessionID); err != nil {
		return nil, err
	}

	timeout := b.config.ExecTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cwd := req.Cwd
	if cwd == "" {
		cwd = b.config.Workdir
	}

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	execResp, err := b.client.ContainerExecCreate(ctx, sessionID, container.ExecOptions{
		Cmd:          req.Cmd,
		WorkingDir:   cwd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, &SandboxError{Op: "Exec", Session: sessionID, Err: fmt.Errorf("create exec: %w", err)}
	}

	attachResp, err := b.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, &SandboxError{Op: "Exec", Session: sessionID, Err: fmt.Errorf("attach exec: %w", err)}
	}
	defer attachResp.Close()

	start := time.Now()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil && ctx.Err() == nil {
		return nil, &SandboxError{Op: "Exec", Session: sessionID, Err: fmt.Errorf("read output: %w", err)}
	}

	inspect, err := b.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, &SandboxError{Op: "Exec", Session: sessionID, Err: fmt.Errorf("inspect exec: %w", err)}
	}

	stdoutStr, outTrunc := b.truncateOutput(stdout.String())
	stderrStr, errTrunc := b.truncateOutput(stderr.String())

	return &ExecResult{
		ExitCode:  inspect.ExitCode,
		Stdout:    stdoutStr,
		Stderr:    stderrStr,
		Duration:  time.Since(start),
		Truncated: outTrunc || errTrunc,
	}, nil
}

// File operations go through the bind-mounted host workspace rather than
// the Docker copy API; the container sees changes immediately.

func (b *DockerBackend) WriteFile(ctx context.Context, sessionID, path string, content []byte) error {
	hostPath, err := b.hostPath(ctx, sessionID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return &SandboxError{Op: "WriteFile", Session: sessionID, Err: err}
	}
	if err := os.WriteFile(hostPath, content, 0644); err != nil {
		return &SandboxError{Op: "WriteFile", Session: sessionID, Err: err}
	}
	return nil
}

func (b *DockerBackend) ReadFile(ctx context.Context, sessionID, path string) ([]byte, error) {
	hostPath, err := b.hostPath(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, &SandboxError{Op: "ReadFile", Session: sessionID, Err: err}
	}
	return content, nil
}

func (b *DockerBackend) DeleteFile(ctx context.Context, sessionID, path string) error {
	hostPath, err := b.hostPath(ctx, sessionID, path)
	if err != nil {
		return err
	}
	workspaceRoot := filepath.Join(b.config.WorkspaceBaseDir, sessionID)
	if hostPath == workspaceRoot {
		return &SandboxError{Op: "DeleteFile", Session: sessionID, Err: fmt.Errorf("cannot delete workspace root")}
	}
	if err := os.RemoveAll(hostPath); err != nil {
		return &SandboxError{Op: "DeleteFile", Session: sessionID, Err: err}
	}
	return nil
}

func (b *DockerBackend) MakeDir(ctx context.Context, sessionID, path string) error {
	hostPath, err := b.hostPath(ctx, sessionID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(hostPath, 0755); err != nil {
		return &SandboxError{Op: "MakeDir", Session: sessionID, Err: err}
	}
	return nil
}

func (b *DockerBackend) ListTree(ctx context.Context, sessionID string) ([]FileEntry, error) {
	if _, err := b.AttachSession(ctx, sessionID); err != nil {
		return nil, err
	}

	root := filepath.Join(b.config.WorkspaceBaseDir, sessionID)
	var entries []FileEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		entry := FileEntry{Path: filepath.ToSlash(rel), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, &SandboxError{Op: "ListTree", Session: sessionID, Err: err}
	}

	return entries, nil
}

func (b *DockerBackend) truncateOutput(s string) (string, bool) {
	if len(s) <= b.config.MaxOutputBytes {
		return s, false
	}
	return s[:b.config.MaxOutputBytes] + "\n... [truncated]", true
}

// hostPath validates the session is live and maps a workspace-relative path
// onto the host bind mount, refusing escapes above the workspace root.
func (b *DockerBackend) hostPath(ctx context.Context, sessionID, path string) (string, error) {
	if _, err := b.AttachSession(ctx, sessionID); err != nil {
		return "", err
	}

	root := filepath.Join(b.config.WorkspaceBaseDir, sessionID)
	full := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", &SandboxError{Op: "ResolvePath", Session: sessionID, Err: fmt.Errorf("path %q escapes workspace", path)}
	}
	return full, nil
}
