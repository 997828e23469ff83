package activity

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/fetcher"
	"github.com/canopy-network/arcadex/pkg/playthrough"
	"github.com/canopy-network/arcadex/pkg/retry"
)

// discoverCallers is the viewer and everyone the viewer follows. Without a viewer the
// feed is global.
func (c *Context) discoverCallers() []string {
	if c.Viewer == "" {
		return nil
	}
	return append([]string{c.Viewer}, c.Social.Following(c.Viewer)...)
}

// SyncPlaythroughs runs the session query on every game project and stores the sessions
// per project.
func (c *Context) SyncPlaythroughs(ctx context.Context) error {
	ctx, id, release := c.Sessions.Begin(ctx, SurfacePlaythroughs)
	defer release()

	query := playthrough.Query(playthrough.QueryOpts{
		Gap:          c.PlaythroughGap,
		LookbackDays: c.PlaythroughLookback,
		Callers:      c.discoverCallers(),
		Limit:        c.PlaythroughLimit,
	})
	projects := c.GameProjects()
	state := c.State(SurfacePlaythroughs)
	state.StartLoading(len(projects))

	source := func(ctx context.Context, project string, yield fetcher.Yield[[]playthrough.Session]) error {
		rows, err := retry.DoValue(ctx, c.Retry, c.Logger, "playthroughs of "+project, func(ctx context.Context) ([]json.RawMessage, error) {
			return c.Indexers.Client(project).SQL(ctx, query)
		})
		if err != nil {
			return err
		}
		return yield(playthrough.DecodeRows(project, rows, c.Logger))
	}

	return fetcher.Run(ctx, c.Coordinator, projects, source, fetcher.Track(state, fetcher.Handlers[[]playthrough.Session]{
		OnData: func(project string, sessions []playthrough.Session) error {
			c.sessions.Replace(project, sessions)
			return nil
		},
		OnError: func(project string, err error) {
			c.Logger.Warn("Playthrough query failed",
				zap.String("project", project),
				zap.String("session", id),
				zap.Error(err))
		},
	}))
}

// Playthroughs returns the stored sessions of the given projects (all when none are given)
// with the achievements completed during each, newest first.
func (c *Context) Playthroughs(projects ...string) []playthrough.Session {
	snap := c.sessions.Snapshot()
	if len(projects) == 0 {
		for project := range snap {
			projects = append(projects, project)
		}
	}
	var all []playthrough.Session
	for _, project := range projects {
		all = append(all, snap[project]...)
	}
	out := playthrough.Attach(all, c.View().Events(projects...))
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].End != out[j].End {
			return out[i].End > out[j].End
		}
		return out[i].Player < out[j].Player
	})
	return out
}
