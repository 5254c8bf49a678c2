// ABOUTME: Matrix sync feed driving reactive cache invalidation
// ABOUTME: Forwards every synced event to the preview service's OnNewEvent hook

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/pangea-chat/preview-gateway/internal/config"
	"github.com/pangea-chat/preview-gateway/internal/preview"
)

// SyncFeed connects to the homeserver as a sync client and forwards new
// events to the preview service so tracked state changes evict their
// room from the cache promptly instead of waiting out the TTL.
type SyncFeed struct {
	client   *mautrix.Client
	previews *preview.Service
	logger   *slog.Logger
}

// NewSyncFeed creates a sync feed for the configured homeserver account.
func NewSyncFeed(cfg config.MatrixConfig, previews *preview.Service, logger *slog.Logger) (*SyncFeed, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &SyncFeed{
		client:   client,
		previews: previews,
		logger:   logger.With("component", "sync"),
	}, nil
}

// Run starts syncing and blocks until the context is canceled or the
// sync loop fails.
func (f *SyncFeed) Run(ctx context.Context) error {
	syncer, ok := f.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", f.client.Syncer)
	}
	syncer.OnEvent(f.handleEvent)

	f.logger.Info("connecting to matrix homeserver", "homeserver", f.client.HomeserverURL.String())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- f.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		f.logger.Info("shutting down sync feed")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleEvent forwards a synced event to the invalidation hook. The
// hook itself filters out non-state and untracked events.
func (f *SyncFeed) handleEvent(ctx context.Context, evt *event.Event) {
	f.previews.OnNewEvent(evt, nil)
}
