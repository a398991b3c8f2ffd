package materialize

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/pkg/pipeline"
)

// Disposer is an optional hook a node can implement to release
// resources before its materialization is dropped.
type Disposer interface {
	Dispose()
}

// CleanupNodes disposes the given nodes after their removal from the
// graph. Every node is processed independently and concurrently; a
// failure on one node never blocks or aborts cleanup of its siblings,
// and no failure propagates to the caller.
func CleanupNodes(ctx context.Context, svc Service, logger *slog.Logger, nodes ...pipeline.Node) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var g errgroup.Group
	for _, node := range nodes {
		g.Go(func() error {
			cleanupNode(ctx, svc, logger, node)
			return nil
		})
	}
	// Workers never return errors; failures are logged and discarded.
	_ = g.Wait()
}

func cleanupNode(ctx context.Context, svc Service, logger *slog.Logger, node pipeline.Node) {
	if d, ok := node.(Disposer); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("node dispose hook panicked",
						slog.String("node", node.ID()), slog.Any("panic", r))
				}
			}()
			d.Dispose()
		}()
	}

	if svc == nil || !svc.IsMaterialized(node) {
		return
	}
	if err := svc.DropMaterialization(ctx, node); err != nil {
		logger.Warn("failed to drop materialization",
			slog.String("node", node.ID()), slog.Any("error", err))
	}
}
