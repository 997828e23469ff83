package torii

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientMessage is sent by subscribers.
//
// Protocol:
// Client sends: {"action": "subscribe", "models": ["arcade-Order"]}
// Client sends: {"action": "unsubscribe", "models": ["arcade-Order"]}
//
// Server sends:
// - {"type": "subscribed", "payload": {"models": [...]}}
// - {"type": "entity.updated", "payload": {<entity>}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
// - {"type": "error", "payload": {"message": "..."}}
type ClientMessage struct {
	Action string   `json:"action"`
	Models []string `json:"models"`
}

// ServerMessage is sent by the indexer.
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	msgSubscribed    = "subscribed"
	msgEntityUpdated = "entity.updated"
	msgPing          = "ping"
	msgError         = "error"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// ErrSubscriptionRejected is returned when the indexer answers a subscribe with an error.
var ErrSubscriptionRejected = errors.New("subscription rejected")

func (c *Client) wsURL() string {
	switch {
	case strings.HasPrefix(c.base, "https://"):
		return "wss://" + strings.TrimPrefix(c.base, "https://") + wsPath
	case strings.HasPrefix(c.base, "http://"):
		return "ws://" + strings.TrimPrefix(c.base, "http://") + wsPath
	default:
		return c.base + wsPath
	}
}

// Subscribe streams entity updates of models to handle until ctx is done or the connection
// drops. Updates are decoded the same way as query pages; an undecodable model is logged
// and skipped. It returns nil when ctx ends the stream.
func (c *Client) Subscribe(ctx context.Context, models []string, handle func(Model)) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL(), err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Models: models}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	c.logger.Debug("Subscribed to indexer updates", zap.Strings("models", models))

	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read update: %w", err)
		}

		switch msg.Type {
		case msgEntityUpdated:
			var e Entity
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				c.logger.Warn("Skipping malformed update", zap.Error(err))
				continue
			}
			for _, m := range DecodeEntities(c.project, []Entity{e}, c.logger) {
				handle(m)
			}
		case msgError:
			var p struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &p)
			return fmt.Errorf("%w: %s", ErrSubscriptionRejected, p.Message)
		case msgSubscribed, msgPing:
		default:
			c.logger.Debug("Ignoring indexer message", zap.String("type", msg.Type))
		}
	}
}
