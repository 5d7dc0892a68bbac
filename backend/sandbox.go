package backend

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Config selects and configures a sandbox.
type Config struct {
	Type           string  `yaml:"type" json:"type"` // local, docker, remote
	Python         string  `yaml:"python" json:"python,omitempty"`
	Workdir        string  `yaml:"workdir" json:"workdir,omitempty"`
	Timeout        float64 `yaml:"timeout" json:"timeout,omitempty"`
	MaxOutputBytes int     `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`
	Image          string  `yaml:"image" json:"image,omitempty"`
	ContainerName  string  `yaml:"container_name" json:"container_name,omitempty"`
	DockerHost     string  `yaml:"docker_host" json:"docker_host,omitempty"`
	URL            string  `yaml:"url" json:"url,omitempty"`
	APIKeyEnv      string  `yaml:"api_key_env" json:"api_key_env,omitempty"`
}

// New builds the sandbox described by cfg.
func New(cfg Config, log logrus.FieldLogger) (Sandbox, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalSandbox(cfg.Python, cfg.Workdir, cfg.Timeout, cfg.MaxOutputBytes, log), nil
	case "docker":
		return NewDockerSandbox(cfg.ContainerName, cfg.Image, cfg.DockerHost, cfg.Python, cfg.Timeout, cfg.MaxOutputBytes, log), nil
	case "remote":
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote sandbox requires url")
		}
		key := ""
		if cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
		}
		return NewRemoteSandbox(cfg.URL, key, nil, log), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type: %q", cfg.Type)
	}
}
