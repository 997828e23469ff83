package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/retry"
	"github.com/canopy-network/arcadex/pkg/torii"
)

// Listen keeps a subscription to project's model updates open until ctx is done,
// reconnecting with the retry backoff. Achievement updates trigger a recompute.
func (c *Context) Listen(ctx context.Context, project string, models []string) {
	client := c.Indexers.Client(project)
	logger := c.Logger.With(zap.String("project", project))
	attempt := 0
	for ctx.Err() == nil {
		err := client.Subscribe(ctx, models, func(m torii.Model) {
			attempt = 0
			c.Apply(m)
			if m.Kind == torii.KindTrophy || m.Kind == torii.KindProgression {
				c.Recompute(ctx)
			}
		})
		if ctx.Err() != nil {
			return
		}
		delay := retry.Delay(c.Retry, attempt)
		if attempt < 6 {
			attempt++
		}
		logger.Warn("Subscription dropped, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// ListenAll subscribes to marketplace updates on the registry and to achievement updates
// on every game project. It returns once ctx is done and every subscription stopped.
func (c *Context) ListenAll(ctx context.Context) {
	done := make(chan struct{})
	n := 0
	spawn := func(project string, models []string) {
		n++
		go func() {
			defer func() { done <- struct{}{} }()
			c.Listen(ctx, project, models)
		}()
	}
	for _, project := range c.registryProjects() {
		spawn(project, marketplaceModels)
	}
	for _, project := range c.GameProjects() {
		spawn(project, achievementModels)
	}
	for i := 0; i < n; i++ {
		<-done
	}
}
