package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/codecrate/config"
)

// Provisioner makes sure an image is in the local cache before a sandbox is
// launched from it. Concurrent requests for the same missing image share one
// pull; a pull that races with another process is harmless because pulls are
// idempotent.
type Provisioner struct {
	logger      *zap.Logger
	store       ImageStore
	pullTimeout time.Duration
	pulls       singleflight.Group
}

// NewProvisioner creates a Provisioner backed by store.
func NewProvisioner(logger *zap.Logger, store ImageStore, pullTimeout time.Duration) *Provisioner {
	return &Provisioner{
		logger:      logger,
		store:       store,
		pullTimeout: pullTimeout,
	}
}

// NewProvisionerFromConfig creates a Provisioner for the configured engine.
func NewProvisionerFromConfig(logger *zap.Logger, engine Engine, cfg *config.Config) *Provisioner {
	return NewProvisioner(logger, engine, cfg.GetPullTimeout())
}

// EnsureAvailable returns nil once image is present locally, pulling it if
// needed. Errors wrap ErrImageUnavailable.
//
// The pull is detached from ctx cancellation so that one impatient caller
// cannot abort a pull other callers are waiting on; it is bounded by the pull
// timeout instead.
func (p *Provisioner) EnsureAvailable(ctx context.Context, image string) error {
	present, err := p.store.ImagePresent(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: inspect %s: %w", ErrImageUnavailable, image, err)
	}
	if present {
		return nil
	}

	_, err, shared := p.pulls.Do(image, func() (any, error) {
		pullCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.pullTimeout)
		defer cancel()

		p.logger.Info("pulling image", zap.String("image", image))
		start := time.Now()

		if pullErr := p.store.PullImage(pullCtx, image); pullErr != nil {
			p.logger.Error("failed to pull image", zap.String("image", image), zap.Error(pullErr))
			return nil, pullErr
		}

		p.logger.Info("pulled image", zap.String("image", image), zap.Duration("duration", time.Since(start)))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: pull %s: %w", ErrImageUnavailable, image, err)
	}

	if shared {
		p.logger.Debug("joined in-flight pull", zap.String("image", image))
	}

	return nil
}

// Prefetch pulls every image that is not cached yet. Failures are logged and
// skipped; the images are provisioned again on first use.
func (p *Provisioner) Prefetch(ctx context.Context, images []string) {
	for _, image := range images {
		if ctx.Err() != nil {
			return
		}
		if err := p.EnsureAvailable(ctx, image); err != nil {
			p.logger.Warn("image prefetch failed", zap.String("image", image), zap.Error(err))
		}
	}
}
