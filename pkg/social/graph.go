// Package social keeps follow and pin relations built from social indexer events.
package social

import (
	"sort"

	"github.com/canopy-network/arcadex/pkg/starknet"
	"github.com/canopy-network/arcadex/pkg/store"
)

// Edge is the latest known state of one relation.
type Edge struct {
	Active bool  `json:"active"`
	Time   int64 `json:"time"`
}

// latest keeps the newer edge. On equal timestamps removal wins so that the result does
// not depend on arrival order.
func latest(a, b Edge) Edge {
	switch {
	case b.Time > a.Time:
		return b
	case a.Time > b.Time:
		return a
	case !a.Active:
		return a
	default:
		return b
	}
}

// Follow is a follow (Active) or unfollow event.
type Follow struct {
	Follower string `json:"follower"`
	Followed string `json:"followed"`
	Active   bool   `json:"active"`
	Time     int64  `json:"time"`
}

// Pin is a pin (Active) or unpin event of an achievement on a player's profile.
type Pin struct {
	Player      string `json:"player"`
	Achievement string `json:"achievement"`
	Active      bool   `json:"active"`
	Time        int64  `json:"time"`
}

// Graph holds follows keyed follower -> followed and pins keyed player -> achievement.
type Graph struct {
	follows *store.Store[string, map[string]Edge]
	pins    *store.Store[string, map[string]Edge]
}

func NewGraph() *Graph {
	return &Graph{
		follows: store.New[string, map[string]Edge](store.MapMerger[string](latest)),
		pins:    store.New[string, map[string]Edge](store.MapMerger[string](latest)),
	}
}

// ApplyFollow merges a follow or unfollow event.
func (g *Graph) ApplyFollow(f Follow) {
	follower := starknet.MustNormalize(f.Follower)
	followed := starknet.MustNormalize(f.Followed)
	g.follows.Merge(follower, map[string]Edge{followed: {Active: f.Active, Time: f.Time}})
}

// ApplyPin merges a pin or unpin event.
func (g *Graph) ApplyPin(p Pin) {
	player := starknet.MustNormalize(p.Player)
	g.pins.Merge(player, map[string]Edge{p.Achievement: {Active: p.Active, Time: p.Time}})
}

// Following lists the addresses address follows, sorted.
func (g *Graph) Following(address string) []string {
	edges, _ := g.follows.Get(starknet.MustNormalize(address))
	return activeKeys(edges)
}

// Followers lists the addresses following address, sorted.
func (g *Graph) Followers(address string) []string {
	address = starknet.MustNormalize(address)
	var out []string
	for follower, edges := range g.follows.Snapshot() {
		if e, ok := edges[address]; ok && e.Active {
			out = append(out, follower)
		}
	}
	sort.Strings(out)
	return out
}

// Pins returns the achievement ids player has pinned.
func (g *Graph) Pins(player string) store.Set {
	edges, _ := g.pins.Get(starknet.MustNormalize(player))
	return store.NewSet(activeKeys(edges)...)
}

func activeKeys(edges map[string]Edge) []string {
	out := make([]string, 0, len(edges))
	for k, e := range edges {
		if e.Active {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
