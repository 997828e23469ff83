package achievement

import (
	"sort"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

// PlayerSummary is the profile header of one player, overall or for one game.
type PlayerSummary struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Rank      int    `json:"rank"`
	Earnings  uint64 `json:"earnings"`
	Pinned    []Item `json:"pinned"`
}

// Rank is the 1-based position of address in players, or 0 if absent.
func Rank(players []Player, address string) int {
	address = starknet.MustNormalize(address)
	for i, p := range players {
		if p.Address == address {
			return i + 1
		}
	}
	return 0
}

// Earnings is the address's earnings in players, or 0 if absent.
func Earnings(players []Player, address string) uint64 {
	address = starknet.MustNormalize(address)
	for _, p := range players {
		if p.Address == address {
			return p.Earnings
		}
	}
	return 0
}

// Pinned returns the completed items whose id is pinned, sorted by id then ascending
// percentage, truncated to MaxPinned.
func Pinned(items []Item, pins map[string]struct{}) []Item {
	var out []Item
	for _, it := range items {
		if !it.Completed {
			continue
		}
		if _, ok := pins[it.ID]; !ok {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Percentage < out[j].Percentage
	})
	if len(out) > MaxPinned {
		out = out[:MaxPinned]
	}
	return out
}

// PlayerStats summarizes the view's viewer across every project.
func (v View) PlayerStats(pins map[string]struct{}) PlayerSummary {
	projects := make([]string, 0, len(v.Achievements))
	for project := range v.Achievements {
		projects = append(projects, project)
	}
	sort.Strings(projects)

	var all []Item
	for _, project := range projects {
		all = append(all, v.Achievements[project]...)
	}
	return v.summary(all, v.Leaderboards.Globals, pins)
}

// PlayerGameStats summarizes the view's viewer within one project.
func (v View) PlayerGameStats(project string, pins map[string]struct{}) PlayerSummary {
	return v.summary(v.Achievements[project], v.Leaderboards.Players[project], pins)
}

func (v View) summary(items []Item, players []Player, pins map[string]struct{}) PlayerSummary {
	s := PlayerSummary{
		Total:    len(items),
		Rank:     Rank(players, v.Viewer),
		Earnings: Earnings(players, v.Viewer),
		Pinned:   Pinned(items, pins),
	}
	for _, it := range items {
		if it.Completed {
			s.Completed++
		}
	}
	return s
}

// Events returns the completion events of the given projects, newest first. No projects
// means every project.
func (v View) Events(projects ...string) []Event {
	if len(projects) == 0 {
		for project := range v.Leaderboards.Events {
			projects = append(projects, project)
		}
		sort.Strings(projects)
	}
	var out []Event
	for _, project := range projects {
		out = append(out, v.Leaderboards.Events[project]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}
