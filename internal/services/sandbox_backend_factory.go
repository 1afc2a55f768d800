package services

import (
	"fmt"
	"os"

	"drydock/internal/config"
)

type SandboxBackendType string

const (
	SandboxBackendDocker   SandboxBackendType = "docker"
	SandboxBackendMachines SandboxBackendType = "machines"
)

// NewSandboxBackendFromConfig builds the provider backend selected by
// configuration.
func NewSandboxBackendFromConfig(cfg *config.Config) (SandboxBackend, error) {
	backendType := SandboxBackendType(cfg.Sandbox.Backend)
	if backendType == "" {
		backendType = SandboxBackendDocker
	}

	switch backendType {
	case SandboxBackendDocker:
		return NewDockerBackend(DockerConfig{
			Host:             cfg.Sandbox.DockerHost,
			Image:            cfg.Sandbox.Image,
			Workdir:          cfg.Sandbox.Workdir,
			WorkspaceBaseDir: cfg.Sandbox.WorkspaceBaseDir,
		})

	case SandboxBackendMachines:
		token := cfg.Sandbox.APIToken
		if token == "" {
			token = os.Getenv("DRYDOCK_SANDBOX_API_TOKEN")
		}
		machinesConfig := DefaultMachinesConfig()
		machinesConfig.APIToken = token
		if cfg.Sandbox.APIURL != "" {
			machinesConfig.APIURL = cfg.Sandbox.APIURL
		}
		if cfg.Sandbox.Region != "" {
			machinesConfig.Region = cfg.Sandbox.Region
		}
		if cfg.Sandbox.Image != "" {
			machinesConfig.Image = cfg.Sandbox.Image
		}
		if cfg.Sandbox.Workdir != "" {
			machinesConfig.Workdir = cfg.Sandbox.Workdir
		}
		if cfg.Sandbox.MemoryMB > 0 {
			machinesConfig.MemoryMB = cfg.Sandbox.MemoryMB
		}
		if cfg.Sandbox.CPUs > 0 {
			machinesConfig.CPUs = cfg.Sandbox.CPUs
		}
		return NewMachinesBackend(machinesConfig)

	default:
		return nil, fmt.Errorf("unknown sandbox backend: %s", backendType)
	}
}
