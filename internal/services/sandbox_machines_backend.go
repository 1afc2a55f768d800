package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"drydock/internal/logging"
)

// MachinesBackend implements SandboxBackend against a remote machines API.
// Each sandbox session is one ephemeral machine; the provider may pause or
// reap a machine at any time, which surfaces as an unavailable-session
// error on the next call.
//
// The machine id doubles as the session id, so AttachSession needs nothing
// beyond the persisted id. Session metadata (owner, workdir, image) is
// carried in machine metadata and recovered on attach.
type MachinesBackend struct {
	config MachinesConfig
	client *http.Client
}

// MachinesConfig configures the remote machines backend.
type MachinesConfig struct {
	APIURL         string // e.g. "https://api.machines.dev/v1"
	APIToken       string
	AppName        string // shared app all sandbox machines live under
	Region         string
	Image          string
	Workdir        string
	MemoryMB       int
	CPUs           int
	MaxOutputBytes int
	FileOpTimeout  time.Duration // ceiling for single file reads/writes
	ExecTimeout    time.Duration // ceiling for command execution
	CreateTimeout  time.Duration // ceiling for machine boot
}

func DefaultMachinesConfig() MachinesConfig {
	return MachinesConfig{
		APIURL:         "https://api.machines.dev/v1",
		AppName:        "drydock-sandbox",
		Region:         "ord",
		Image:          "ubuntu:24.04",
		Workdir:        "/workspace",
		MemoryMB:       512,
		CPUs:           1,
		MaxOutputBytes: 1024 * 1024,
		FileOpTimeout:  30 * time.Second,
		ExecTimeout:    2 * time.Minute,
		CreateTimeout:  90 * time.Second,
	}
}

// Machines API wire types

type machineCreateRequest struct {
	Name   string        `json:"name,omitempty"`
	Region string        `json:"region"`
	Config machineConfig `json:"config"`
}

type machineConfig struct {
	Image    string             `json:"image"`
	Guest    machineGuestConfig `json:"guest,omitempty"`
	Init     machineInitConfig  `json:"init,omitempty"`
	AutoStop string             `json:"auto_stop,omitempty"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

type machineGuestConfig struct {
	CPUs     int `json:"cpus,omitempty"`
	MemoryMB int `json:"memory_mb,omitempty"`
}

type machineInitConfig struct {
	Cmd []string `json:"cmd,omitempty"`
}

type machineResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	State    string            `json:"state"`
	Region   string            `json:"region"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type machineExecRequest struct {
	Cmd     string `json:"cmd"`
	Timeout int    `json:"timeout,omitempty"`
}

type machineExecResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func NewMachinesBackend(cfg MachinesConfig) (*MachinesBackend, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("machines backend requires an API token")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.machines.dev/v1"
	}
	def := DefaultMachinesConfig()
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.Workdir == "" {
		cfg.Workdir = def.Workdir
	}
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.FileOpTimeout <= 0 {
		cfg.FileOpTimeout = def.FileOpTimeout
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = def.ExecTimeout
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}

	return &MachinesBackend{
		config: cfg,
		client: &http.Client{Timeout: cfg.ExecTimeout + 30*time.Second},
	}, nil
}

func (b *MachinesBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	if _, err := b.apiCall(ctx, "GET", fmt.Sprintf("/apps/%s", b.config.AppName), nil); err != nil {
		return &SandboxError{Op: "Ping", Err: err}
	}
	return nil
}

func (b *MachinesBackend) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.CreateTimeout)
	defer cancel()

	image := opts.Image
	if image == "" {
		image = b.config.Image
	}
	workdir := opts.Workdir
	if workdir == "" {
		workdir = b.config.Workdir
	}

	createReq := machineCreateRequest{
		Region: b.config.Region,
		Config: machineConfig{
			Image: image,
			Guest: machineGuestConfig{
				CPUs:     pickInt(opts.CPUs, b.config.CPUs),
				MemoryMB: pickInt(opts.MemoryMB, b.config.MemoryMB),
			},
			Init:     machineInitConfig{Cmd: []string{"sleep", "infinity"}},
			AutoStop: "off",
			Metadata: map[string]string{
				"drydock_owner":   opts.OwnerID,
				"drydock_workdir": workdir,
				"drydock_image":   image,
			},
		},
	}

	body, err := json.Marshal(createReq)
	if err != nil {
		return nil, &SandboxError{Op: "CreateSession", Err: fmt.Errorf("marshal request: %w", err)}
	}

	respBody, err := b.apiCall(ctx, "POST", fmt.Sprintf("/apps/%s/machines", b.config.AppName), body)
	if err != nil {
		return nil, &SandboxError{Op: "CreateSession", Err: err}
	}

	var machine machineResponse
	if err := json.Unmarshal(respBody, &machine); err != nil {
		return nil, &SandboxError{Op: "CreateSession", Err: fmt.Errorf("decode response: %w", err)}
	}

	if err := b.waitForStarted(ctx, machine.ID); err != nil {
		// The half-created machine would otherwise leak.
		if derr := b.deleteMachine(context.Background(), machine.ID); derr != nil {
			logging.Debug("cleanup of machine %s after failed boot: %v", machine.ID, derr)
		}
		return nil, &SandboxError{Op: "CreateSession", Session: machine.ID, Err: err}
	}

	if _, err := b.execShell(ctx, machine.ID, shellCmd("mkdir", "-p", workdir), 30); err != nil {
		logging.Debug("create workdir on machine %s: %v", machine.ID, err)
	}

	now := time.Now()
	return &Session{
		ID:         machine.ID,
		OwnerID:    opts.OwnerID,
		Image:      image,
		Workdir:    workdir,
		Env:        opts.Env,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// AttachSession recovers a session from its persisted id. A machine the
// provider paused, stopped, or deleted classifies as unavailable.
func (b *MachinesBackend) AttachSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	machine, err := b.getMachine(ctx, sessionID)
	if err != nil {
		return nil, &SandboxError{Op: "AttachSession", Session: sessionID, Err: err}
	}

	if machine.State != "started" {
		return nil, &SandboxError{
			Op:      "AttachSession",
			Session: sessionID,
			Err:     fmt.Errorf("machine state %q: %w", machine.State, ErrSessionUnavailable),
		}
	}

	workdir := machine.Metadata["drydock_workdir"]
	if workdir == "" {
		workdir = b.config.Workdir
	}

	now := time.Now()
	return &Session{
		ID:         machine.ID,
		OwnerID:    machine.Metadata["drydock_owner"],
		Image:      machine.Metadata["drydock_image"],
		Workdir:    workdir,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func (b *MachinesBackend) DestroySession(ctx context.Context, sessionID string) error {
	if err := b.deleteMachine(ctx, sessionID); err != nil {
		if IsUnavailableSessionError(err) {
			return nil // already gone
		}
		return &SandboxError{Op: "DestroySession", Session: sessionID, Err: err}
	}
	return nil
}

func (b *MachinesBackend) Exec(ctx context.Context, sessionID string, req ExecRequest) (*ExecResult, error) {
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

	start := time.Now()
	resp, err := b.execShell(ctx, sessionID, buildShellCommand(req.Cmd, cwd, req.Env), int(timeout.Seconds()))
	if err != nil {
		return nil, &SandboxError{Op: "Exec", Session: sessionID, Err: err}
	}

	stdout, stdoutTrunc := b.truncateOutput(resp.Stdout)
	stderr, stderrTrunc := b.truncateOutput(resp.Stderr)

	return &ExecResult{
		ExitCode:  resp.ExitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Duration:  time.Since(start),
		Truncated: stdoutTrunc || stderrTrunc,
	}, nil
}

func (b *MachinesBackend) WriteFile(ctx context.Context, sessionID, filePath string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	fullPath := b.workspacePath(filePath)
	encoded := base64.StdEncoding.EncodeToString(content)

	inner := fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s",
		shellQuoteSingle(path.Dir(fullPath)), shellQuoteSingle(encoded), shellQuoteSingle(fullPath))

	resp, err := b.execShell(ctx, sessionID, "sh -c "+shellQuoteSingle(inner), int(b.config.FileOpTimeout.Seconds()))
	if err != nil {
		return &SandboxError{Op: "WriteFile", Session: sessionID, Err: err}
	}
	if resp.ExitCode != 0 {
		return &SandboxError{Op: "WriteFile", Session: sessionID, Err: &remoteCommandError{Op: "write", Path: filePath, Stderr: resp.Stderr}}
	}
	return nil
}

func (b *MachinesBackend) ReadFile(ctx context.Context, sessionID, filePath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	fullPath := b.workspacePath(filePath)
	inner := fmt.Sprintf("base64 < %s", shellQuoteSingle(fullPath))

	resp, err := b.execShell(ctx, sessionID, "sh -c "+shellQuoteSingle(inner), int(b.config.FileOpTimeout.Seconds()))
	if err != nil {
		return nil, &SandboxError{Op: "ReadFile", Session: sessionID, Err: err}
	}
	if resp.ExitCode != 0 {
		return nil, &SandboxError{Op: "ReadFile", Session: sessionID, Err: &remoteCommandError{Op: "read", Path: filePath, Stderr: resp.Stderr}}
	}

	content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.Stdout))
	if err != nil {
		return nil, &SandboxError{Op: "ReadFile", Session: sessionID, Err: fmt.Errorf("decode %s: %w", filePath, err)}
	}
	return content, nil
}

func (b *MachinesBackend) DeleteFile(ctx context.Context, sessionID, filePath string) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	fullPath := b.workspacePath(filePath)
	if fullPath == b.config.Workdir {
		return &SandboxError{Op: "DeleteFile", Session: sessionID, Err: fmt.Errorf("cannot delete workspace root")}
	}

	resp, err := b.execShell(ctx, sessionID, shellCmd("rm", "-rf", fullPath), int(b.config.FileOpTimeout.Seconds()))
	if err != nil {
		return &SandboxError{Op: "DeleteFile", Session: sessionID, Err: err}
	}
	if resp.ExitCode != 0 {
		return &SandboxError{Op: "DeleteFile", Session: sessionID, Err: &remoteCommandError{Op: "delete", Path: filePath, Stderr: resp.Stderr}}
	}
	return nil
}

func (b *MachinesBackend) MakeDir(ctx context.Context, sessionID, dirPath string) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.FileOpTimeout)
	defer cancel()

	resp, err := b.execShell(ctx, sessionID, shellCmd("mkdir", "-p", b.workspacePath(dirPath)), int(b.config.FileOpTimeout.Seconds()))
	if err != nil {
		return &SandboxError{Op: "MakeDir", Session: sessionID, Err: err}
	}
	if resp.ExitCode != 0 {
		return &SandboxError{Op: "MakeDir", Session: sessionID, Err: &remoteCommandError{Op: "mkdir", Path: dirPath, Stderr: resp.Stderr}}
	}
	return nil
}

func (b *MachinesBackend) ListTree(ctx context.Context, sessionID string) ([]FileEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.ExecTimeout)
	defer cancel()

	inner := fmt.Sprintf("find %s -mindepth 1 -printf '%%y|%%s|%%P\\n' 2>/dev/null | head -10000",
		shellQuoteSingle(b.config.Workdir))

	resp, err := b.execShell(ctx, sessionID, "sh -c "+shellQuoteSingle(inner), int(b.config.ExecTimeout.Seconds()))
	if err != nil {
		return nil, &SandboxError{Op: "ListTree", Session: sessionID, Err: err}
	}

	var entries []FileEntry
	for _, line := range strings.Split(strings.TrimSpace(resp.Stdout), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 || parts[2] == "" {
			continue
		}

		size, _ := strconv.ParseInt(parts[1], 10, 64)
		entries = append(entries, FileEntry{
			Path:  parts[2],
			IsDir: parts[0] == "d",
			Size:  size,
		})
	}

	return entries, nil
}

// Internal helpers

func (b *MachinesBackend) workspacePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	return path.Join(b.config.Workdir, p)
}

func (b *MachinesBackend) truncateOutput(s string) (string, bool) {
	if len(s) <= b.config.MaxOutputBytes {
		return s, false
	}
	return s[:b.config.MaxOutputBytes] + "\n... [truncated]", true
}

func (b *MachinesBackend) waitForStarted(ctx context.Context, machineID string) error {
	for {
		machine, err := b.getMachine(ctx, machineID)
		if err != nil {
			return err
		}

		switch machine.State {
		case "started":
			return nil
		case "failed", "destroyed":
			return fmt.Errorf("machine entered state %s", machine.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (b *MachinesBackend) getMachine(ctx context.Context, machineID string) (*machineResponse, error) {
	body, err := b.apiCall(ctx, "GET", fmt.Sprintf("/apps/%s/machines/%s", b.config.AppName, machineID), nil)
	if err != nil {
		return nil, err
	}

	var machine machineResponse
	if err := json.Unmarshal(body, &machine); err != nil {
		return nil, fmt.Errorf("decode machine: %w", err)
	}
	return &machine, nil
}

func (b *MachinesBackend) deleteMachine(ctx context.Context, machineID string) error {
	_, err := b.apiCall(ctx, "DELETE", fmt.Sprintf("/apps/%s/machines/%s?force=true", b.config.AppName, machineID), nil)
	return err
}

func (b *MachinesBackend) execShell(ctx context.Context, machineID, cmdStr string, timeoutSec int) (*machineExecResponse, error) {
	body, err := json.Marshal(machineExecRequest{Cmd: cmdStr, Timeout: timeoutSec})
	if err != nil {
		return nil, fmt.Errorf("marshal exec request: %w", err)
	}

	respBody, err := b.apiCall(ctx, "POST", fmt.Sprintf("/apps/%s/machines/%s/exec", b.config.AppName, machineID), body)
	if err != nil {
		return nil, err
	}

	var execResp machineExecResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, fmt.Errorf("decode exec response: %w", err)
	}
	return &execResp, nil
}

// apiCall issues one request against the machines API. Non-2xx responses
// become providerStatusError so classification can key on the status code.
func (b *MachinesBackend) apiCall(ctx context.Context, method, apiPath string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.config.APIURL+apiPath, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.config.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providerStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func buildShellCommand(cmd []string, cwd string, env map[string]string) string {
	envPrefix := ""
	for k, v := range env {
		envPrefix += fmt.Sprintf("%s=%s ", shellQuoteSingle(k), shellQuoteSingle(v))
	}

	cmdStr := shellQuoteJoin(cmd)
	if cwd != "" {
		cmdStr = fmt.Sprintf("cd %s && %s%s", shellQuoteSingle(cwd), envPrefix, cmdStr)
	} else if envPrefix != "" {
		cmdStr = envPrefix + cmdStr
	}

	return "sh -c " + shellQuoteSingle(cmdStr)
}

func shellQuoteJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuoteSingle(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuoteSingle(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\r'\"\\$`!&|;<>(){}[]#*?~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

func shellCmd(args ...string) string {
	return shellQuoteJoin(args)
}
