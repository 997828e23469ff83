package activity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/torii"
	"github.com/canopy-network/arcadex/pkg/utils"
)

var (
	catalogModels     = []string{torii.ModelGame, torii.ModelEdition}
	achievementModels = []string{torii.ModelTrophy, torii.ModelProgression}
	socialModels      = []string{torii.ModelFollow, torii.ModelUnfollow, torii.ModelPin, torii.ModelUnpin}
	marketplaceModels = []string{torii.ModelOrder, torii.ModelSale}
)

// SyncCatalog loads games and editions from the registry.
func (c *Context) SyncCatalog(ctx context.Context) error {
	if c.Registry == "" {
		return nil
	}
	return c.syncModels(ctx, SurfaceCatalog, []string{c.Registry}, catalogModels)
}

// SyncAchievements loads trophy definitions and progressions of every game project and
// recomputes the achievement view once all projects reported.
func (c *Context) SyncAchievements(ctx context.Context) error {
	if err := c.syncModels(ctx, SurfaceAchievements, c.GameProjects(), achievementModels); err != nil {
		return err
	}
	c.Recompute(ctx)
	return nil
}

// SyncSocial loads follows and pins. Follows live in the registry, pins in each game.
func (c *Context) SyncSocial(ctx context.Context) error {
	endpoints := utils.Dedup(append(c.GameProjects(), c.registryProjects()...))
	return c.syncModels(ctx, SurfaceSocial, endpoints, socialModels)
}

// SyncOrders loads marketplace orders and sales.
func (c *Context) SyncOrders(ctx context.Context) error {
	return c.syncModels(ctx, SurfaceMarketplace, c.registryProjects(), marketplaceModels)
}

// SyncAll runs one full pass: catalog first since it decides the game projects, then the
// rest. Failures of one surface do not stop the others.
func (c *Context) SyncAll(ctx context.Context) error {
	if err := c.SyncCatalog(ctx); err != nil {
		return err
	}
	var errs []error
	for _, step := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{SurfaceAchievements, c.SyncAchievements},
		{SurfaceSocial, c.SyncSocial},
		{SurfaceMarketplace, c.SyncOrders},
		{SurfacePlaythroughs, c.SyncPlaythroughs},
	} {
		if err := step.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Logger.Warn("Sync step failed", zap.String("surface", step.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
