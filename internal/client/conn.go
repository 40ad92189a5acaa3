// Package client is the headless game client: the relay connection, the
// per-frame game loop with its mirror of remote peers, and voice sessions.
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cory-johannsen/huddle/internal/gameserver"
)

// Sender emits one event to the relay.
type Sender interface {
	Send(ctx context.Context, event string, data any) error
}

// Conn is a WebSocket connection to the relay.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger
}

// Dial connects to the relay WebSocket endpoint at url.
//
// Postcondition: Returns an open Conn or the dial error.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	ws.SetReadLimit(64 << 10)
	logger.Info("connected to relay", zap.String("url", url))
	return &Conn{ws: ws, logger: logger}, nil
}

// Send encodes and writes one event. Safe for concurrent use.
func (c *Conn) Send(ctx context.Context, event string, data any) error {
	frame, err := gameserver.Encode(event, data)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Read blocks for the next event.
func (c *Conn) Read(ctx context.Context) (gameserver.Envelope, error) {
	var env gameserver.Envelope
	if err := wsjson.Read(ctx, c.ws, &env); err != nil {
		return gameserver.Envelope{}, fmt.Errorf("reading event: %w", err)
	}
	return env, nil
}

// Close sends a normal closure.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
