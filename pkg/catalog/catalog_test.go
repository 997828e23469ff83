package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed() *Catalog {
	c := New()
	c.PutGame(Game{ID: 1, Name: "Dope Wars", Priority: 5, Whitelisted: true})
	c.PutGame(Game{ID: 2, Name: "Loot Survivor", Priority: 9, Whitelisted: true})
	c.PutGame(Game{ID: 3, Name: "Eternum", Priority: 5})

	c.PutEdition(Edition{ID: 10, GameID: 1, Name: "Season 1", Project: "dopewars", Whitelisted: true, Priority: 1})
	c.PutEdition(Edition{ID: 11, GameID: 1, Name: "Season 0", Project: "dopewars", Whitelisted: true})
	c.PutEdition(Edition{ID: 20, GameID: 2, Name: "Mainnet", Project: "ls-mainnet", Whitelisted: true, Priority: 3})
	c.PutEdition(Edition{ID: 30, GameID: 3, Name: "Blitz", Project: "eternum-blitz"})
	return c
}

func TestCatalog_Games(t *testing.T) {
	games := seed().Games()
	require.Len(t, games, 3)
	assert.Equal(t, []string{"Loot Survivor", "Dope Wars", "Eternum"}, []string{games[0].Name, games[1].Name, games[2].Name})
}

func TestCatalog_Projects(t *testing.T) {
	c := seed()
	assert.Equal(t, []string{"ls-mainnet", "dopewars"}, c.Projects())

	c.RemoveEdition(20)
	assert.Equal(t, []string{"dopewars"}, c.Projects())
}

func TestCatalog_Editions(t *testing.T) {
	c := seed()
	eds := c.Editions(1)
	require.Len(t, eds, 2)
	assert.Equal(t, uint64(10), eds[0].ID)

	e, ok := c.EditionByProject("eternum-blitz")
	require.True(t, ok)
	assert.Equal(t, uint64(3), e.GameID)

	_, ok = c.EditionByProject("missing")
	assert.False(t, ok)
}

func TestCatalog_Search(t *testing.T) {
	c := seed()

	matches := c.Search("dope")
	require.NotEmpty(t, matches)
	assert.Equal(t, uint64(1), matches[0].Game.ID)
	assert.Len(t, matches, 1, "one hit per game")

	matches = c.Search("blitz")
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].Edition)
	assert.Equal(t, "eternum-blitz", matches[0].Edition.Project)

	assert.Empty(t, c.Search("   "))
	assert.Empty(t, c.Search("zzzz"))
}
