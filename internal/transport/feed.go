// Package transport delivers file-change notifications from outside the
// process to the frame loop's event bus.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/event"
	"github.com/demogame/runtime/internal/core/fault"
)

// MsgFileChanged is the only message name the feed acts on.
const MsgFileChanged = "FILE_CHANGED"

const messageSchema = `{
  "type": "object",
  "required": ["name", "data"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "data": {"type": "string"}
  }
}`

var schema = jsonschema.MustCompileString("feed-message.json", messageSchema)

// Message is one change-feed frame.
type Message struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// ParseMessage decodes and validates one text frame.
func ParseMessage(raw []byte) (Message, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Message{}, fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return Message{}, fmt.Errorf("validate: %w", err)
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

// Feed is a websocket client for a dev server's change feed. Every valid
// FILE_CHANGED message becomes an event.FileChanged on the bus.
type Feed struct {
	URL         string
	DialTimeout time.Duration
	ReadTimeout time.Duration // 0 = no deadline
	MaxBackoff  time.Duration

	bus *event.Bus
	log *zap.Logger
}

func NewFeed(url string, bus *event.Bus, log *zap.Logger) *Feed {
	return &Feed{
		URL:         url,
		DialTimeout: 5 * time.Second,
		MaxBackoff:  5 * time.Second,
		bus:         bus,
		log:         log,
	}
}

// Run connects and reconnects until ctx is done. Connection failures are
// logged as non-fatal transport errors.
func (f *Feed) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("變更通知連線中斷", zap.String("url", f.URL), zap.Error(fault.Transport("change feed", false, err)), zap.Duration("retry", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	f.log.Info("變更通知已連線", zap.String("url", f.URL))

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		if f.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		f.handle(raw)
	}
}

func (f *Feed) handle(raw []byte) {
	m, err := ParseMessage(raw)
	if err != nil {
		f.log.Warn("忽略無效的變更通知", zap.Error(err))
		return
	}
	if m.Name != MsgFileChanged {
		f.log.Debug("忽略變更通知", zap.String("name", m.Name))
		return
	}
	if m.Data == "" {
		f.log.Warn("變更通知缺少路徑")
		return
	}
	event.Emit(f.bus, event.FileChanged{Path: m.Data})
}
