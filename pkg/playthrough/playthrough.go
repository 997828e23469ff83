// Package playthrough derives play sessions from transaction calls: a caller's session ends
// once the caller has been idle for longer than a gap.
package playthrough

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/achievement"
	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/starknet"
)

const (
	DefaultGap          = time.Hour
	DefaultLookbackDays = 30
	DefaultLimit        = 1000
)

// Call is one contract call made by a player.
type Call struct {
	Caller     string `json:"caller"`
	Entrypoint string `json:"entrypoint"`
	Timestamp  int64  `json:"timestamp"`
}

// Session is a run of calls by one caller without a gap longer than the threshold.
type Session struct {
	Project      string              `json:"project"`
	Player       string              `json:"player"`
	Start        int64               `json:"start"`
	End          int64               `json:"end"`
	Count        int                 `json:"count"`
	Entrypoints  []string            `json:"entrypoints"`
	Achievements []achievement.Event `json:"achievements"`
}

// Split groups calls into sessions per caller. A new session starts when more than gap has
// passed since the caller's previous call. Sessions are returned newest first.
func Split(calls []Call, gap time.Duration) []Session {
	if gap <= 0 {
		gap = DefaultGap
	}
	limit := int64(gap / time.Second)

	byCaller := map[string][]Call{}
	for _, c := range calls {
		caller := starknet.MustNormalize(c.Caller)
		byCaller[caller] = append(byCaller[caller], c)
	}

	var out []Session
	for caller, list := range byCaller {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp < list[j].Timestamp })

		var cur *Session
		seen := map[string]struct{}{}
		for _, c := range list {
			if cur == nil || c.Timestamp-cur.End > limit {
				if cur != nil {
					out = append(out, *cur)
				}
				cur = &Session{Player: caller, Start: c.Timestamp}
				seen = map[string]struct{}{}
			}
			cur.End = c.Timestamp
			cur.Count++
			if _, ok := seen[c.Entrypoint]; !ok && c.Entrypoint != "" {
				seen[c.Entrypoint] = struct{}{}
				cur.Entrypoints = append(cur.Entrypoints, c.Entrypoint)
			}
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	sortSessions(out)
	return out
}

func sortSessions(s []Session) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].End != s[j].End {
			return s[i].End > s[j].End
		}
		return s[i].Player < s[j].Player
	})
}

// Attach copies sessions and adds to each the completion events of the same player whose
// timestamp falls inside [Start, End].
func Attach(sessions []Session, events []achievement.Event) []Session {
	byPlayer := map[string][]achievement.Event{}
	for _, ev := range events {
		if ev.Timestamp == 0 {
			continue
		}
		player := starknet.MustNormalize(ev.Player)
		byPlayer[player] = append(byPlayer[player], ev)
	}

	out := make([]Session, len(sessions))
	for i, s := range sessions {
		s.Achievements = nil
		for _, ev := range byPlayer[starknet.MustNormalize(s.Player)] {
			if s.Project != "" && ev.Project != s.Project {
				continue
			}
			if ev.Timestamp >= s.Start && ev.Timestamp <= s.End {
				s.Achievements = append(s.Achievements, ev)
			}
		}
		sort.SliceStable(s.Achievements, func(a, b int) bool { return s.Achievements[a].Timestamp < s.Achievements[b].Timestamp })
		out[i] = s
	}
	return out
}

// QueryOpts parameterizes the session query.
type QueryOpts struct {
	Gap          time.Duration
	LookbackDays int
	Callers      []string
	Limit        int
}

// Query returns the SQL the indexer's sql endpoint runs to split transaction calls into
// sessions server side. Caller addresses are normalized before being inlined; invalid ones
// are dropped.
func Query(o QueryOpts) string {
	if o.Gap <= 0 {
		o.Gap = DefaultGap
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = DefaultLookbackDays
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}

	var callers []string
	for _, c := range o.Callers {
		if n, err := starknet.Normalize(c); err == nil {
			callers = append(callers, "'"+n+"'")
		}
	}

	var b strings.Builder
	b.WriteString("WITH calls AS (\n")
	b.WriteString("  SELECT tc.caller_address AS caller, tc.entrypoint AS entrypoint,\n")
	b.WriteString("         CAST(strftime('%s', t.executed_at) AS INTEGER) AS ts\n")
	b.WriteString("  FROM transaction_calls tc\n")
	b.WriteString("  JOIN transactions t ON t.transaction_hash = tc.transaction_hash\n")
	fmt.Fprintf(&b, "  WHERE t.executed_at >= datetime('now', '-%d days')\n", o.LookbackDays)
	if len(callers) > 0 {
		fmt.Fprintf(&b, "    AND tc.caller_address IN (%s)\n", strings.Join(callers, ", "))
	}
	b.WriteString("),\nmarked AS (\n")
	b.WriteString("  SELECT caller, entrypoint, ts,\n")
	b.WriteString("         CASE WHEN LAG(ts) OVER (PARTITION BY caller ORDER BY ts) IS NULL\n")
	fmt.Fprintf(&b, "                OR ts - LAG(ts) OVER (PARTITION BY caller ORDER BY ts) > %d\n", int64(o.Gap/time.Second))
	b.WriteString("              THEN 1 ELSE 0 END AS new_session\n")
	b.WriteString("  FROM calls\n")
	b.WriteString("),\nnumbered AS (\n")
	b.WriteString("  SELECT caller, entrypoint, ts,\n")
	b.WriteString("         SUM(new_session) OVER (PARTITION BY caller ORDER BY ts ROWS UNBOUNDED PRECEDING) AS session_id\n")
	b.WriteString("  FROM marked\n")
	b.WriteString(")\n")
	b.WriteString("SELECT caller, MIN(ts) AS session_start, MAX(ts) AS session_end, COUNT(*) AS action_count,\n")
	b.WriteString("       GROUP_CONCAT(DISTINCT entrypoint) AS entrypoints\n")
	b.WriteString("FROM numbered\n")
	b.WriteString("GROUP BY caller, session_id\n")
	b.WriteString("ORDER BY session_end DESC\n")
	fmt.Fprintf(&b, "LIMIT %d", o.Limit)
	return b.String()
}

type row struct {
	Caller       string          `json:"caller"`
	SessionStart json.RawMessage `json:"session_start"`
	SessionEnd   json.RawMessage `json:"session_end"`
	ActionCount  json.RawMessage `json:"action_count"`
	Entrypoints  *string         `json:"entrypoints"`
}

// DecodeRows turns the rows of Query into sessions for project. A row that does not decode
// is logged and skipped.
func DecodeRows(project string, rows []json.RawMessage, logger *zap.Logger) []Session {
	logger = logging.OrNop(logger)
	out := make([]Session, 0, len(rows))
	for i, raw := range rows {
		s, err := decodeRow(raw)
		if err != nil {
			logger.Warn("Skipping playthrough row", zap.String("project", project), zap.Int("row", i), zap.Error(err))
			continue
		}
		s.Project = project
		out = append(out, s)
	}
	sortSessions(out)
	return out
}

func decodeRow(raw json.RawMessage) (Session, error) {
	var r row
	if err := json.Unmarshal(raw, &r); err != nil {
		return Session{}, fmt.Errorf("decode row: %w", err)
	}
	player, err := starknet.Normalize(r.Caller)
	if err != nil {
		return Session{}, err
	}
	start, err := intField(r.SessionStart)
	if err != nil {
		return Session{}, fmt.Errorf("session_start: %w", err)
	}
	end, err := intField(r.SessionEnd)
	if err != nil {
		return Session{}, fmt.Errorf("session_end: %w", err)
	}
	count, err := intField(r.ActionCount)
	if err != nil {
		return Session{}, fmt.Errorf("action_count: %w", err)
	}

	s := Session{Player: player, Start: start, End: end, Count: int(count)}
	if r.Entrypoints != nil {
		for _, ep := range strings.Split(*r.Entrypoints, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				s.Entrypoints = append(s.Entrypoints, ep)
			}
		}
	}
	return s, nil
}

// intField accepts a JSON number or a numeric string; sqlite aggregates come back as either.
func intField(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n.Int64()
}
