// Package metadata builds inverted indexes over token attribute metadata for faceted
// filtering: trait_type -> value -> set of token ids.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
)

// DeferThreshold is the collection size above which Indexer.Build runs in the background.
const DeferThreshold = 1000

// Token is the part of an indexed token the filter index needs. Metadata is either an
// already decoded object (map[string]any), a raw JSON document (string, []byte,
// json.RawMessage) or nil.
type Token struct {
	ID       string
	Metadata any
}

// Attribute is one trait/value pair of a token.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Index maps trait_type -> value -> token ids.
type Index map[string]map[string]map[string]struct{}

var errNoAttributes = errors.New("metadata has no attributes")

// Attributes extracts the attribute list of a token's metadata.
func Attributes(metadata any) ([]Attribute, error) {
	var doc map[string]any
	switch m := metadata.(type) {
	case nil:
		return nil, errNoAttributes
	case map[string]any:
		doc = m
	case string:
		if err := decodeJSON([]byte(m), &doc); err != nil {
			return nil, err
		}
	case []byte:
		if err := decodeJSON(m, &doc); err != nil {
			return nil, err
		}
	case json.RawMessage:
		if err := decodeJSON(m, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported metadata type %T", metadata)
	}

	raw, ok := doc["attributes"]
	if !ok || raw == nil {
		return nil, errNoAttributes
	}
	// Some collections store attributes as a JSON string inside the metadata document.
	if s, isString := raw.(string); isString {
		var nested []any
		if err := decodeJSON([]byte(s), &nested); err != nil {
			return nil, err
		}
		raw = nested
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("attributes is %T, want a list", raw)
	}

	out := make([]Attribute, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		trait, ok := obj["trait_type"].(string)
		if !ok || trait == "" {
			continue
		}
		value, ok := stringify(obj["value"])
		if !ok {
			continue
		}
		out = append(out, Attribute{TraitType: trait, Value: value})
	}
	return out, nil
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

// BuildIndex indexes every token's attributes. Tokens whose metadata is absent or does not
// parse are skipped; parse failures are logged.
func BuildIndex(tokens []Token, logger *zap.Logger) Index {
	logger = logging.OrNop(logger)
	idx := Index{}
	for _, tok := range tokens {
		attrs, err := Attributes(tok.Metadata)
		if err != nil {
			if !errors.Is(err, errNoAttributes) {
				logger.Warn("Skipping token with unparsable metadata", zap.String("token", tok.ID), zap.Error(err))
			}
			continue
		}
		for _, a := range attrs {
			values, ok := idx[a.TraitType]
			if !ok {
				values = map[string]map[string]struct{}{}
				idx[a.TraitType] = values
			}
			ids, ok := values[a.Value]
			if !ok {
				ids = map[string]struct{}{}
				values[a.Value] = ids
			}
			ids[tok.ID] = struct{}{}
		}
	}
	return idx
}

// Counts maps trait -> value -> number of tokens.
type Counts map[string]map[string]int

// CalculateFilterCounts counts tokens per trait/value. With a non-nil restrict set only
// tokens in that set are counted.
func CalculateFilterCounts(idx Index, restrict map[string]struct{}) Counts {
	out := make(Counts, len(idx))
	for trait, values := range idx {
		counts := make(map[string]int, len(values))
		for value, ids := range values {
			if restrict == nil {
				counts[value] = len(ids)
				continue
			}
			n := 0
			small, large := ids, restrict
			if len(small) > len(large) {
				small, large = large, small
			}
			for id := range small {
				if _, ok := large[id]; ok {
					n++
				}
			}
			counts[value] = n
		}
		out[trait] = counts
	}
	return out
}

// Pending is an index being built.
type Pending struct {
	done chan struct{}
	idx  Index
}

// Wait blocks until the index is ready or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Index, error) {
	select {
	case <-p.done:
		return p.idx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether the index finished building.
func (p *Pending) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Indexer builds indexes, deferring large collections to a background pool so that
// callers on an interactive path are not blocked.
type Indexer struct {
	logger *zap.Logger
	pool   pond.Pool
}

func NewIndexer(logger *zap.Logger) *Indexer {
	return &Indexer{
		logger: logging.OrNop(logger),
		pool:   pond.NewPool(1),
	}
}

// Build indexes tokens synchronously for small collections and in the background above
// DeferThreshold. The result is the same either way.
func (ix *Indexer) Build(tokens []Token) *Pending {
	p := &Pending{done: make(chan struct{})}
	if len(tokens) <= DeferThreshold {
		p.idx = BuildIndex(tokens, ix.logger)
		close(p.done)
		return p
	}

	ix.logger.Debug("Deferring metadata index build", zap.Int("tokens", len(tokens)))
	ix.pool.Submit(func() {
		defer close(p.done)
		p.idx = BuildIndex(tokens, ix.logger)
	})
	return p
}

// Close waits for queued builds.
func (ix *Indexer) Close() {
	ix.pool.StopAndWait()
}
