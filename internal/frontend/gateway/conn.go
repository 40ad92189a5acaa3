package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/gameserver"
)

// readLimit bounds a single inbound frame. Signaling SDP blobs are the largest payloads.
const readLimit = 64 << 10

// disconnectTimeout bounds how long a closing session waits to queue its disconnect.
const disconnectTimeout = 5 * time.Second

func (g *Gateway) handleWebSocket(c echo.Context) error {
	conn, err := websocket.Accept(c.Response().Writer, c.Request(), &websocket.AcceptOptions{
		OriginPatterns: g.cfg.AllowedOrigins,
	})
	if err != nil {
		g.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", c.RealIP()),
			zap.Error(err),
		)
		return nil
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return nil
	}
	g.conns.Add(1)
	g.mu.Unlock()
	defer g.conns.Done()

	g.serve(c.Request().Context(), conn, c.RealIP())
	return nil
}

// serve runs one client session: register, pump outbound events, read inbound
// events until the client goes away, then disconnect exactly once.
func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, remoteAddr string) {
	start := time.Now()
	memberID := g.newID()
	log := g.logger.With(zap.String("member_id", memberID), zap.String("remote_addr", remoteAddr))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-g.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	outbox, err := g.dispatcher.Connect(ctx, memberID)
	if err != nil {
		log.Warn("registering member", zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		if err := g.dispatcher.Disconnect(dctx, memberID); err != nil {
			log.Debug("queueing disconnect", zap.Error(err))
		}
	}()

	log.Info("client connected")
	conn.SetReadLimit(readLimit)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(ctx, cancel, conn, outbox, log)
	}()

	err = g.readLoop(ctx, conn, memberID, log)
	cancel()
	<-writerDone

	status := websocket.CloseStatus(err)
	if err == nil || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		log.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	log.Debug("session ended", zap.Error(err), zap.Duration("duration", time.Since(start)))
	conn.Close(websocket.StatusInternalError, "session ended")
}

// readLoop decodes frames and submits them. Malformed frames are logged and
// skipped; only transport failures end the session.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, memberID string, log *zap.Logger) error {
	for {
		rctx, rcancel := ctx, context.CancelFunc(func() {})
		if g.cfg.ReadTimeout > 0 {
			rctx, rcancel = context.WithTimeout(ctx, g.cfg.ReadTimeout)
		}
		_, data, err := conn.Read(rctx)
		rcancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env gameserver.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.metrics.Drop("malformed")
			log.Debug("dropping malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if err := g.dispatcher.Inbound(ctx, memberID, env); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, gameserver.ErrDispatcherStopped) {
				return nil
			}
			return err
		}
	}
}

// writePump drains the outbox to the socket. A closed outbox means the server
// dropped the member, so the socket is closed to end the read loop.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbox *session.Outbox, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-outbox.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				cancel()
				return
			}
			wctx, wcancel := ctx, context.CancelFunc(func() {})
			if g.cfg.WriteTimeout > 0 {
				wctx, wcancel = context.WithTimeout(ctx, g.cfg.WriteTimeout)
			}
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}
