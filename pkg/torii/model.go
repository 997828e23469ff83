package torii

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/achievement"
	"github.com/canopy-network/arcadex/pkg/catalog"
	"github.com/canopy-network/arcadex/pkg/marketplace"
	"github.com/canopy-network/arcadex/pkg/social"
	"github.com/canopy-network/arcadex/pkg/starknet"
)

// Kind discriminates Model.
type Kind int

const (
	KindUnknown Kind = iota
	KindTrophy
	KindProgression
	KindOrder
	KindSale
	KindFollow
	KindPin
	KindGame
	KindEdition
)

func (k Kind) String() string {
	switch k {
	case KindTrophy:
		return "trophy"
	case KindProgression:
		return "progression"
	case KindOrder:
		return "order"
	case KindSale:
		return "sale"
	case KindFollow:
		return "follow"
	case KindPin:
		return "pin"
	case KindGame:
		return "game"
	case KindEdition:
		return "edition"
	default:
		return "unknown"
	}
}

// Indexer model names.
const (
	ModelTrophy      = "arcade-TrophyCreation"
	ModelProgression = "arcade-TrophyProgression"
	ModelOrder       = "arcade-Order"
	ModelSale        = "arcade-Sale"
	ModelFollow      = "arcade-Follow"
	ModelUnfollow    = "arcade-Unfollow"
	ModelPin         = "arcade-TrophyPinning"
	ModelUnpin       = "arcade-TrophyUnpinning"
	ModelGame        = "arcade-Game"
	ModelEdition     = "arcade-Edition"
)

// Model is a decoded indexer model. Exactly the field selected by Kind is set.
type Model struct {
	Kind        Kind
	Project     string
	Trophy      *achievement.Trophy
	Progression *achievement.Progression
	Order       *marketplace.Order
	Sale        *marketplace.Sale
	Follow      *social.Follow
	Pin         *social.Pin
	Game        *catalog.Game
	Edition     *catalog.Edition
}

// ErrUnknownModel is returned for model names this client does not decode.
var ErrUnknownModel = errors.New("unknown model")

// DecodeModel decodes one model value by its indexer name.
func DecodeModel(project, name string, raw json.RawMessage) (Model, error) {
	m := Model{Project: project}
	var err error
	switch name {
	case ModelTrophy:
		m.Kind = KindTrophy
		m.Trophy, err = decodeTrophy(project, raw)
	case ModelProgression:
		m.Kind = KindProgression
		m.Progression, err = decodeProgression(project, raw)
	case ModelOrder:
		m.Kind = KindOrder
		m.Order, err = decodeOrder(raw)
	case ModelSale:
		m.Kind = KindSale
		m.Sale, err = decodeSale(raw)
	case ModelFollow, ModelUnfollow:
		m.Kind = KindFollow
		m.Follow, err = decodeFollow(raw, name == ModelFollow)
	case ModelPin, ModelUnpin:
		m.Kind = KindPin
		m.Pin, err = decodePin(raw, name == ModelPin)
	case ModelGame:
		m.Kind = KindGame
		m.Game, err = decodeGame(raw)
	case ModelEdition:
		m.Kind = KindEdition
		m.Edition, err = decodeEdition(raw)
	default:
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if err != nil {
		return Model{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return m, nil
}

// DecodeEntities decodes every model of every entity. A model that fails to decode is
// logged and skipped; the rest of the page is kept. Models of one entity come out in
// name order.
func DecodeEntities(project string, entities []Entity, logger *zap.Logger) []Model {
	out := make([]Model, 0, len(entities))
	for _, e := range entities {
		names := make([]string, 0, len(e.Models))
		for name := range e.Models {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m, err := DecodeModel(project, name, e.Models[name])
			if err != nil {
				if !errors.Is(err, ErrUnknownModel) {
					logger.Warn("Skipping undecodable model",
						zap.String("entity", e.HashedKeys),
						zap.String("model", name),
						zap.Error(err),
					)
				}
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// felt is a value the indexer sends as a JSON number, a decimal string or a hex string.
type felt struct {
	n   *big.Int
	raw string
}

func (f *felt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	f.raw = s
	if s == "" {
		return nil
	}
	n, err := starknet.ParseFelt(s)
	if err != nil {
		return err
	}
	f.n = n
	return nil
}

func (f felt) big() *big.Int {
	if f.n == nil {
		return new(big.Int)
	}
	return f.n
}

func (f felt) uint64() (uint64, error) {
	n := f.big()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s overflows uint64", n)
	}
	return n.Uint64(), nil
}

func (f felt) int64() (int64, error) {
	n := f.big()
	if !n.IsInt64() {
		return 0, fmt.Errorf("%s overflows int64", n)
	}
	return n.Int64(), nil
}

func (f felt) uint32() (uint32, error) {
	v, err := f.uint64()
	if err != nil {
		return 0, err
	}
	if v > 1<<32-1 {
		return 0, fmt.Errorf("%d overflows uint32", v)
	}
	return uint32(v), nil
}

func (f felt) address() (string, error) {
	return starknet.Normalize(f.raw)
}

// text is a string the indexer may send either as plain text or as a short string felt.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "0x") {
		if decoded, err := starknet.FeltToString(s); err == nil && printable(decoded) {
			s = decoded
		}
	}
	*t = text(s)
	return nil
}

func printable(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// flag accepts true/false, 0/1 and their string forms.
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	switch s {
	case "true", "1", "0x1":
		*f = true
	case "false", "0", "0x0", "null", "":
		*f = false
	default:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid bool %q", s)
		}
		*f = flag(v)
	}
	return nil
}

type rawTask struct {
	ID          text `json:"id"`
	Total       felt `json:"total"`
	Description text `json:"description"`
}

type rawTrophy struct {
	ID          text      `json:"id"`
	Hidden      flag      `json:"hidden"`
	Index       felt      `json:"index"`
	Points      felt      `json:"points"`
	Group       text      `json:"group"`
	Icon        text      `json:"icon"`
	Title       text      `json:"title"`
	Description text      `json:"description"`
	Tasks       []rawTask `json:"tasks"`
}

func decodeTrophy(project string, raw json.RawMessage) (*achievement.Trophy, error) {
	var r rawTrophy
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.New("missing id")
	}
	index, err := r.Index.uint32()
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	points, err := r.Points.uint32()
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	t := &achievement.Trophy{
		ID:          string(r.ID),
		Project:     project,
		Group:       string(r.Group),
		Index:       index,
		Points:      points,
		Title:       string(r.Title),
		Description: string(r.Description),
		Icon:        string(r.Icon),
		Hidden:      bool(r.Hidden),
	}
	for _, rt := range r.Tasks {
		total, err := rt.Total.uint32()
		if err != nil {
			return nil, fmt.Errorf("task %s total: %w", rt.ID, err)
		}
		t.Tasks = append(t.Tasks, achievement.Task{ID: string(rt.ID), Total: total, Description: string(rt.Description)})
	}
	return t, nil
}

type rawProgression struct {
	Player felt `json:"player_id"`
	Task   text `json:"task_id"`
	Count  felt `json:"count"`
	Time   felt `json:"time"`
}

func decodeProgression(project string, raw json.RawMessage) (*achievement.Progression, error) {
	var r rawProgression
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	player, err := r.Player.address()
	if err != nil {
		return nil, fmt.Errorf("player_id: %w", err)
	}
	count, err := r.Count.uint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	ts, err := r.Time.int64()
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	return &achievement.Progression{Project: project, Player: player, Task: string(r.Task), Count: count, Timestamp: ts}, nil
}

type rawOrder struct {
	ID         felt   `json:"id"`
	Collection felt   `json:"collection"`
	TokenID    felt   `json:"token_id"`
	Owner      felt   `json:"owner"`
	Currency   felt   `json:"currency"`
	Price      felt   `json:"price"`
	Quantity   felt   `json:"quantity"`
	Expiration felt   `json:"expiration"`
	Status     string `json:"status"`
	Category   string `json:"category"`
	Time       felt   `json:"time"`
}

func (r rawOrder) order() (marketplace.Order, error) {
	var (
		o   marketplace.Order
		err error
	)
	if o.ID, err = r.ID.uint64(); err != nil {
		return o, fmt.Errorf("id: %w", err)
	}
	if o.Collection, err = r.Collection.address(); err != nil {
		return o, fmt.Errorf("collection: %w", err)
	}
	if o.Quantity, err = r.Quantity.uint64(); err != nil {
		return o, fmt.Errorf("quantity: %w", err)
	}
	if o.Expiration, err = r.Expiration.int64(); err != nil {
		return o, fmt.Errorf("expiration: %w", err)
	}
	if o.Time, err = r.Time.int64(); err != nil {
		return o, fmt.Errorf("time: %w", err)
	}
	o.TokenID = r.TokenID.big().String()
	o.Owner = starknet.MustNormalize(r.Owner.raw)
	o.Currency = starknet.MustNormalize(r.Currency.raw)
	o.Price = r.Price.big()
	o.Status = marketplace.ParseStatus(r.Status)
	o.Category = marketplace.ParseCategory(r.Category)
	return o, nil
}

func decodeOrder(raw json.RawMessage) (*marketplace.Order, error) {
	var r rawOrder
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	o, err := r.order()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type rawSale struct {
	Order rawOrder `json:"order"`
	From  felt     `json:"from"`
	To    felt     `json:"to"`
	Time  felt     `json:"time"`
}

func decodeSale(raw json.RawMessage) (*marketplace.Sale, error) {
	var r rawSale
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	o, err := r.Order.order()
	if err != nil {
		return nil, fmt.Errorf("order: %w", err)
	}
	ts, err := r.Time.int64()
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	return &marketplace.Sale{
		Order: o,
		From:  starknet.MustNormalize(r.From.raw),
		To:    starknet.MustNormalize(r.To.raw),
		Time:  ts,
	}, nil
}

type rawFollow struct {
	Follower felt `json:"follower"`
	Followed felt `json:"followed"`
	Time     felt `json:"time"`
}

func decodeFollow(raw json.RawMessage, active bool) (*social.Follow, error) {
	var r rawFollow
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	follower, err := r.Follower.address()
	if err != nil {
		return nil, fmt.Errorf("follower: %w", err)
	}
	followed, err := r.Followed.address()
	if err != nil {
		return nil, fmt.Errorf("followed: %w", err)
	}
	ts, err := r.Time.int64()
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	return &social.Follow{Follower: follower, Followed: followed, Active: active, Time: ts}, nil
}

type rawPin struct {
	Player      felt `json:"player_id"`
	Achievement text `json:"achievement_id"`
	Time        felt `json:"time"`
}

func decodePin(raw json.RawMessage, active bool) (*social.Pin, error) {
	var r rawPin
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	player, err := r.Player.address()
	if err != nil {
		return nil, fmt.Errorf("player_id: %w", err)
	}
	ts, err := r.Time.int64()
	if err != nil {
		return nil, fmt.Errorf("time: %w", err)
	}
	return &social.Pin{Player: player, Achievement: string(r.Achievement), Active: active, Time: ts}, nil
}

type rawGame struct {
	ID          felt `json:"id"`
	Name        text `json:"name"`
	Description text `json:"description"`
	Image       text `json:"image"`
	Color       text `json:"color"`
	Published   flag `json:"published"`
	Whitelisted flag `json:"whitelisted"`
	Priority    felt `json:"priority"`
}

func decodeGame(raw json.RawMessage) (*catalog.Game, error) {
	var r rawGame
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	id, err := r.ID.uint64()
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	priority, err := r.Priority.uint32()
	if err != nil {
		return nil, fmt.Errorf("priority: %w", err)
	}
	return &catalog.Game{
		ID:          id,
		Name:        string(r.Name),
		Description: string(r.Description),
		Image:       string(r.Image),
		Color:       string(r.Color),
		Published:   bool(r.Published),
		Whitelisted: bool(r.Whitelisted),
		Priority:    priority,
	}, nil
}

type rawEdition struct {
	ID          felt `json:"id"`
	GameID      felt `json:"game_id"`
	Name        text `json:"name"`
	Project     text `json:"project"`
	RPC         text `json:"rpc"`
	World       felt `json:"world_address"`
	Namespace   text `json:"namespace"`
	Published   flag `json:"published"`
	Whitelisted flag `json:"whitelisted"`
	Priority    felt `json:"priority"`
}

func decodeEdition(raw json.RawMessage) (*catalog.Edition, error) {
	var r rawEdition
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	id, err := r.ID.uint64()
	if err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	gameID, err := r.GameID.uint64()
	if err != nil {
		return nil, fmt.Errorf("game_id: %w", err)
	}
	priority, err := r.Priority.uint32()
	if err != nil {
		return nil, fmt.Errorf("priority: %w", err)
	}
	e := &catalog.Edition{
		ID:          id,
		GameID:      gameID,
		Name:        string(r.Name),
		Project:     string(r.Project),
		RPC:         string(r.RPC),
		Namespace:   string(r.Namespace),
		Published:   bool(r.Published),
		Whitelisted: bool(r.Whitelisted),
		Priority:    priority,
	}
	if r.World.raw != "" {
		e.World = starknet.MustNormalize(r.World.raw)
	}
	return e, nil
}
