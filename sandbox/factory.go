package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codecrate/config"
)

// NewEngine creates the isolation backend selected by the configuration
func NewEngine(logger *zap.Logger, cfg *config.Config) (Engine, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerEngine(logger)
	case "podman":
		return NewPodmanEngine(logger, cfg.Sandbox.MaxOutputKB*BytesPerKB), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Sandbox.Backend)
	}
}
