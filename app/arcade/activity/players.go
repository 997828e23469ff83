package activity

import (
	"context"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/achievement"
)

// Entry is one leaderboard row with the player's username when known.
type Entry struct {
	achievement.Player
	Rank     int
	Username string
}

// Leaderboard returns a project's ranking, or the global one when project is empty, with
// usernames resolved. A failed lookup leaves usernames empty.
func (c *Context) Leaderboard(ctx context.Context, project string) []Entry {
	view := c.View()
	players := view.Leaderboards.Globals
	if project != "" {
		players = view.Leaderboards.Players[project]
	}

	addresses := make([]string, len(players))
	for i, p := range players {
		addresses[i] = p.Address
	}
	var names map[string]string
	if c.Resolver != nil && len(addresses) > 0 {
		var err error
		if names, err = c.Resolver.Usernames(ctx, addresses); err != nil {
			c.Logger.Warn("Username lookup failed", zap.String("project", project), zap.Error(err))
		}
	}

	out := make([]Entry, len(players))
	for i, p := range players {
		out[i] = Entry{Player: p, Rank: i + 1, Username: names[p.Address]}
	}
	return out
}

// PlayerStats summarizes a player across all projects, or in one project when project is
// set. Pinned achievements come from the social graph.
func (c *Context) PlayerStats(project string) achievement.PlayerSummary {
	view := c.View()
	pins := c.Social.Pins(view.Viewer)
	if project == "" {
		return view.PlayerStats(pins)
	}
	return view.PlayerGameStats(project, pins)
}
