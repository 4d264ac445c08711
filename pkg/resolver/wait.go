package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/versions"
)

// Defaults for the bounded poll after a concurrent upload conflict.
const (
	defaultPollInterval = time.Second
	defaultPollAttempts = 120
)

// Sleeper pauses between poll attempts. Injectable so tests can run the
// poll loop without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitForCompetingUpload polls the catalog until the artifact a
// concurrent resolution is uploading becomes visible and matches the
// requested constraints. The loop is bounded; exhaustion is a conflict
// error, not a silent miss.
func (r *Resolver) waitForCompetingUpload(ctx context.Context, tenant, name string, filter catalog.PluginFilter, constraint, extra versions.ConstraintSet) (*catalog.Plugin, error) {
	tel := telemetry.FromTelemetryContext(ctx)
	logger := telemetry.FromContext(ctx).WithPlugin(name, constraint.String())
	logger.Info("another upload of this plugin is in progress, waiting for it to finish")

	if tel != nil {
		tel.Metrics.RecordUploadConflict()
	}

	for attempt := 0; attempt < r.pollAttempts; attempt++ {
		if tel != nil {
			tel.Metrics.RecordConflictPoll()
		}

		plugins, err := r.catalog.ListPlugins(ctx, tenant, filter)
		if err != nil {
			return nil, NewTransportError("catalog query failed", err).WithPlugin(name)
		}
		if best := bestMatch(plugins, constraint, extra); best != nil {
			return best, nil
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, err
		}
	}

	return nil, NewConflictError(
		fmt.Sprintf("timed out waiting for a concurrent upload of plugin %s to finish", name),
		nil).WithPlugin(name).WithConstraint(constraint.String())
}
