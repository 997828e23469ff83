// Package catalog holds the registry of games and their editions. Each edition points at
// one indexer project.
package catalog

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/canopy-network/arcadex/pkg/store"
)

// Game is a registered game.
type Game struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Color       string `json:"color"`
	Published   bool   `json:"published"`
	Whitelisted bool   `json:"whitelisted"`
	Priority    uint32 `json:"priority"`
}

// Edition is a deployment of a game: a world on some chain with its own indexer project.
type Edition struct {
	ID          uint64 `json:"id"`
	GameID      uint64 `json:"gameId"`
	Name        string `json:"name"`
	Project     string `json:"project"`
	RPC         string `json:"rpc"`
	World       string `json:"world"`
	Namespace   string `json:"namespace"`
	Published   bool   `json:"published"`
	Whitelisted bool   `json:"whitelisted"`
	Priority    uint32 `json:"priority"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	games    *store.Store[uint64, Game]
	editions *store.Store[uint64, Edition]
}

func New() *Catalog {
	return &Catalog{
		games:    store.New[uint64, Game](nil),
		editions: store.New[uint64, Edition](nil),
	}
}

func (c *Catalog) PutGame(g Game) { c.games.Replace(g.ID, g) }

func (c *Catalog) PutEdition(e Edition) { c.editions.Replace(e.ID, e) }

func (c *Catalog) RemoveGame(id uint64) { c.games.Delete(id) }

func (c *Catalog) RemoveEdition(id uint64) { c.editions.Delete(id) }

func (c *Catalog) Game(id uint64) (Game, bool) { return c.games.Get(id) }

// Games returns every game, highest priority first, then by name.
func (c *Catalog) Games() []Game {
	snap := c.games.Snapshot()
	out := make([]Game, 0, len(snap))
	for _, g := range snap {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Editions returns the editions of a game, or of every game when gameID is 0, highest
// priority first.
func (c *Catalog) Editions(gameID uint64) []Edition {
	snap := c.editions.Snapshot()
	out := make([]Edition, 0, len(snap))
	for _, e := range snap {
		if gameID == 0 || e.GameID == gameID {
			out = append(out, e)
		}
	}
	sortEditions(out)
	return out
}

func sortEditions(out []Edition) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
}

// EditionByProject finds the edition backed by an indexer project.
func (c *Catalog) EditionByProject(project string) (Edition, bool) {
	for _, e := range c.Editions(0) {
		if e.Project == project {
			return e, true
		}
	}
	return Edition{}, false
}

// Projects lists the indexer projects of whitelisted editions, deduplicated, highest
// priority first. This is the endpoint list fetches fan out over.
func (c *Catalog) Projects() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range c.Editions(0) {
		if !e.Whitelisted || e.Project == "" {
			continue
		}
		if _, ok := seen[e.Project]; ok {
			continue
		}
		seen[e.Project] = struct{}{}
		out = append(out, e.Project)
	}
	return out
}

// Match is one search hit: a game, optionally narrowed to one of its editions.
type Match struct {
	Game    Game
	Edition *Edition
	Score   int
}

type entries []entry

type entry struct {
	text    string
	game    Game
	edition *Edition
}

func (e entries) String(i int) string { return e[i].text }

func (e entries) Len() int { return len(e) }

// Search fuzzy matches query against game and edition names, best match first. Each game
// appears at most once.
func (c *Catalog) Search(query string) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	games := map[uint64]Game{}
	var items entries
	for _, g := range c.Games() {
		games[g.ID] = g
		items = append(items, entry{text: strings.ToLower(g.Name), game: g})
	}
	for _, e := range c.Editions(0) {
		g, ok := games[e.GameID]
		if !ok {
			continue
		}
		e := e
		items = append(items, entry{text: strings.ToLower(g.Name + " " + e.Name), game: g, edition: &e})
	}

	seen := map[uint64]struct{}{}
	var out []Match
	for _, m := range fuzzy.FindFrom(query, items) {
		it := items[m.Index]
		if _, ok := seen[it.game.ID]; ok {
			continue
		}
		seen[it.game.ID] = struct{}{}
		out = append(out, Match{Game: it.game, Edition: it.edition, Score: m.Score})
	}
	return out
}
