package achievement

import (
	"sort"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

// Definitions deduplicates a project's trophies by id. The last definition wins but keeps
// the position of the first one.
func Definitions(trophies []Trophy) []Trophy {
	pos := make(map[string]int, len(trophies))
	out := make([]Trophy, 0, len(trophies))
	for _, t := range trophies {
		if i, ok := pos[t.ID]; ok {
			out[i] = t
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

// supersedes reports whether b replaces a as the snapshot of the same (player, task).
// Counts only grow on chain, so the larger count wins and ties go to the later event.
// The rule is order independent.
func supersedes(a, b Progression) bool {
	if b.Count != a.Count {
		return b.Count > a.Count
	}
	return b.Timestamp > a.Timestamp
}

// Newer returns the snapshot Extract keeps out of two records of the same (player, task).
func Newer(a, b Progression) Progression {
	if supersedes(a, b) {
		return b
	}
	return a
}

// Extract groups progression events per (project, player, trophy). It returns an empty
// Data if either input is empty.
func Extract(progressions map[string][]Progression, trophies map[string][]Trophy) Data {
	data := Data{
		Progress: map[string]map[string]map[string]TrophyProgress{},
		Players:  map[string][]string{},
	}
	if len(progressions) == 0 || len(trophies) == 0 {
		return data
	}

	for project, events := range progressions {
		defs := Definitions(trophies[project])
		if len(defs) == 0 || len(events) == 0 {
			continue
		}

		// Latest snapshot per player and task.
		latest := map[string]map[string]Progression{}
		var order []string
		for _, ev := range events {
			player := starknet.MustNormalize(ev.Player)
			tasks, ok := latest[player]
			if !ok {
				tasks = map[string]Progression{}
				latest[player] = tasks
				order = append(order, player)
			}
			if cur, ok := tasks[ev.Task]; !ok || supersedes(cur, ev) {
				tasks[ev.Task] = ev
			}
		}

		perPlayer := make(map[string]map[string]TrophyProgress, len(latest))
		for player, tasks := range latest {
			perTrophy := map[string]TrophyProgress{}
			for _, def := range defs {
				var tp TrophyProgress
				for _, task := range def.Tasks {
					ev, ok := tasks[task.ID]
					if !ok {
						continue
					}
					if tp.Tasks == nil {
						tp.Tasks = map[string]TaskProgress{}
					}
					tp.Tasks[task.ID] = TaskProgress{
						Count:     ev.Count,
						Total:     task.Total,
						Timestamp: ev.Timestamp,
						Completed: ev.Count >= task.Total,
					}
				}
				if tp.Tasks != nil {
					perTrophy[def.ID] = tp
				}
			}
			perPlayer[player] = perTrophy
		}

		data.Progress[project] = perPlayer
		data.Players[project] = order
	}
	return data
}

// progress computes completion of one trophy from a player's task progress: the share of
// the summed targets reached, each task capped at its target, in [0, 100]. A trophy with
// no tasks or no target is never completed.
func progress(def Trophy, tp TrophyProgress) (percentage float64, completed bool, timestamp int64) {
	var sumMin, sumTotal uint64
	for _, task := range def.Tasks {
		sumTotal += uint64(task.Total)
		p, ok := tp.Tasks[task.ID]
		if !ok {
			continue
		}
		c := p.Count
		if c > task.Total {
			c = task.Total
		}
		sumMin += uint64(c)
		if p.Completed && p.Timestamp > timestamp {
			timestamp = p.Timestamp
		}
	}
	if sumTotal == 0 {
		return 0, false, 0
	}

	percentage = float64(sumMin) / float64(sumTotal) * 100
	if percentage > 100 {
		percentage = 100
	}
	if percentage < 0 {
		percentage = 0
	}
	completed = sumMin == sumTotal
	if !completed {
		timestamp = 0
	}
	return percentage, completed, timestamp
}

// ComputePlayers builds per-project leaderboards, completion counts and completion events,
// and the global leaderboard across every project.
func ComputePlayers(data Data, trophies map[string][]Trophy) Leaderboards {
	out := Leaderboards{
		Stats:   Stats{},
		Players: map[string][]Player{},
		Events:  map[string][]Event{},
	}

	projects := make([]string, 0, len(data.Players))
	for project := range data.Players {
		projects = append(projects, project)
	}
	sort.Strings(projects)

	globalIdx := map[string]int{}
	var globals []Player

	for _, project := range projects {
		defs := Definitions(trophies[project])
		stats := map[string]int{}
		var players []Player
		var events []Event

		for _, address := range data.Players[project] {
			perTrophy := data.Progress[project][address]
			player := Player{Address: address}
			for _, def := range defs {
				_, completed, ts := progress(def, perTrophy[def.ID])
				if !completed {
					continue
				}
				player.Earnings += uint64(def.Points)
				player.Completed++
				player.Trophies = append(player.Trophies, def.ID)
				if ts > player.Timestamp {
					player.Timestamp = ts
				}
				stats[def.ID]++
				events = append(events, Event{
					Project:   project,
					Player:    address,
					Trophy:    def.ID,
					Title:     def.Title,
					Icon:      def.Icon,
					Points:    def.Points,
					Timestamp: ts,
				})
			}
			players = append(players, player)

			i, ok := globalIdx[address]
			if !ok {
				globalIdx[address] = len(globals)
				globals = append(globals, Player{Address: address})
				i = len(globals) - 1
			}
			g := &globals[i]
			g.Earnings += player.Earnings
			g.Completed += player.Completed
			g.Trophies = append(g.Trophies, player.Trophies...)
			if player.Timestamp > g.Timestamp {
				g.Timestamp = player.Timestamp
			}
		}

		sortByEarnings(players)
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp > events[j].Timestamp })

		out.Stats[project] = stats
		out.Players[project] = players
		out.Events[project] = events
	}

	sortByEarnings(globals)
	out.Globals = globals
	return out
}

func sortByEarnings(players []Player) {
	sort.SliceStable(players, func(i, j int) bool { return players[i].Earnings > players[j].Earnings })
}

// ComputeAchievements builds every project's trophies as seen by viewer.
func ComputeAchievements(data Data, trophies map[string][]Trophy, boards Leaderboards, viewer string) map[string][]Item {
	viewer = starknet.MustNormalize(viewer)
	out := make(map[string][]Item, len(trophies))

	for project, list := range trophies {
		defs := Definitions(list)
		mine := data.Progress[project][viewer]
		playerCount := len(boards.Players[project])

		items := make([]Item, 0, len(defs))
		for _, def := range defs {
			tp := mine[def.ID]
			percentage, completed, ts := progress(def, tp)

			tasks := make([]ItemTask, 0, len(def.Tasks))
			for _, task := range def.Tasks {
				p := tp.Tasks[task.ID]
				tasks = append(tasks, ItemTask{
					ID:          task.ID,
					Description: task.Description,
					Count:       p.Count,
					Total:       task.Total,
					Completed:   p.Completed,
				})
			}

			var popularity float64
			if playerCount > 0 {
				popularity = float64(boards.Stats[project][def.ID]) / float64(playerCount) * 100
			}

			items = append(items, Item{
				ID:          def.ID,
				Project:     project,
				Group:       def.Group,
				Index:       def.Index,
				Title:       def.Title,
				Description: def.Description,
				Icon:        def.Icon,
				Hidden:      def.Hidden,
				Earning:     def.Points,
				Percentage:  percentage,
				Completed:   completed,
				Timestamp:   ts,
				Popularity:  popularity,
				Tasks:       tasks,
			})
		}
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Index != items[j].Index {
				return items[i].Index < items[j].Index
			}
			return items[i].ID < items[j].ID
		})
		out[project] = items
	}
	return out
}

// Input is everything a recompute needs.
type Input struct {
	Trophies     map[string][]Trophy
	Progressions map[string][]Progression
	Viewer       string
}

// View is the derived achievement state for one viewer.
type View struct {
	Viewer       string
	Data         Data
	Leaderboards Leaderboards
	Achievements map[string][]Item
}

// Recompute derives the full view from source data.
func Recompute(in Input) View {
	data := Extract(in.Progressions, in.Trophies)
	boards := ComputePlayers(data, in.Trophies)
	return View{
		Viewer:       starknet.MustNormalize(in.Viewer),
		Data:         data,
		Leaderboards: boards,
		Achievements: ComputeAchievements(data, in.Trophies, boards, in.Viewer),
	}
}
