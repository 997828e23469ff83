// Package achievement turns per-project trophy definitions and progression snapshots into
// player completion stats, leaderboards and per-viewer achievement views.
//
// Every function here is pure: callers recompute explicitly whenever source data changes.
package achievement

// MaxPinned is the number of pinned achievements a profile displays.
const MaxPinned = 3

// Task is one completion requirement of a trophy.
type Task struct {
	ID          string `json:"id"`
	Total       uint32 `json:"total"`
	Description string `json:"description"`
}

// Trophy is an achievement definition, keyed by (Project, ID).
type Trophy struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	Group       string `json:"group"`
	Index       uint32 `json:"index"`
	Points      uint32 `json:"points"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Hidden      bool   `json:"hidden"`
	Tasks       []Task `json:"tasks"`
}

// Progression is a player's current count toward one task. Timestamp is 0 while the task
// is incomplete.
type Progression struct {
	Project   string `json:"project"`
	Player    string `json:"player"`
	Task      string `json:"task"`
	Count     uint32 `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// TaskProgress is a player's progress on one task of one trophy.
type TaskProgress struct {
	Count     uint32 `json:"count"`
	Total     uint32 `json:"total"`
	Timestamp int64  `json:"timestamp"`
	Completed bool   `json:"completed"`
}

// TrophyProgress is a player's progress on every task of one trophy.
type TrophyProgress struct {
	Tasks map[string]TaskProgress `json:"tasks"`
}

// Data is the grouped form of progression events.
type Data struct {
	// Progress is project -> player -> trophy id -> progress.
	Progress map[string]map[string]map[string]TrophyProgress
	// Players is project -> player addresses in order of first appearance.
	Players map[string][]string
}

// Player is one leaderboard row.
type Player struct {
	Address   string   `json:"address"`
	Earnings  uint64   `json:"earnings"`
	Completed int      `json:"completed"`
	Timestamp int64    `json:"timestamp"`
	Trophies  []string `json:"trophies"`
}

// Event is one trophy completion, used by activity feeds.
type Event struct {
	Project   string `json:"project"`
	Player    string `json:"player"`
	Trophy    string `json:"trophy"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	Points    uint32 `json:"points"`
	Timestamp int64  `json:"timestamp"`
}

// ItemTask is a task as seen by the viewer.
type ItemTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Count       uint32 `json:"count"`
	Total       uint32 `json:"total"`
	Completed   bool   `json:"completed"`
}

// Item is a trophy as seen by one viewing player.
type Item struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Group       string     `json:"group"`
	Index       uint32     `json:"index"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Hidden      bool       `json:"hidden"`
	Earning     uint32     `json:"earning"`
	Percentage  float64    `json:"percentage"`
	Completed   bool       `json:"completed"`
	Timestamp   int64      `json:"timestamp"`
	Popularity  float64    `json:"popularity"`
	Tasks       []ItemTask `json:"tasks"`
}

// Stats is project -> trophy id -> number of players who completed it.
type Stats map[string]map[string]int

// Leaderboards is the output of ComputePlayers.
type Leaderboards struct {
	Stats   Stats
	Players map[string][]Player
	Events  map[string][]Event
	Globals []Player
}
