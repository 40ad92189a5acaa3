package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/config"
	"github.com/cory-johannsen/huddle/internal/frontend/gateway"
	"github.com/cory-johannsen/huddle/internal/game/character"
	"github.com/cory-johannsen/huddle/internal/game/physics"
	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
)

func startRelay(t *testing.T) string {
	t.Helper()
	logger := zap.NewNop()
	svc := gameserver.NewRelayService(session.NewRegistry(session.DefaultCapacity, nil), session.NewManager(64), 50, nil, logger)
	d := gameserver.NewDispatcher(svc, 64, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Start(ctx) }()

	cfg, err := config.LoadFromViper(config.Defaults())
	require.NoError(t, err)
	g := gateway.New(cfg.HTTP, cfg.Metrics, d, world.Default(), nil, logger)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		g.Stop(stopCtx)
		srv.Close()
		d.Stop(stopCtx)
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClients_SeeEachOtherMove(t *testing.T) {
	url := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	play := func(name string, input InputSource) (*Game, chan error) {
		conn, err := Dial(ctx, url, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		g := NewGame(conn, world.Default(), physics.DefaultParams(), character.Descriptor{Name: name}.WithDefaults(), nil, zap.NewNop())
		require.NoError(t, g.RequestMatch(ctx))
		done := make(chan error, 1)
		go func() { done <- g.Run(ctx, conn, input, 10*time.Millisecond) }()
		return g, done
	}

	idle := func(time.Time) physics.Input { return physics.Input{} }
	walker, walkerDone := play("Ana", func(time.Time) physics.Input { return physics.Input{Right: true} })
	watcher, watcherDone := play("Bo", idle)

	// The watcher's mirror is only read after Run returns.
	time.Sleep(500 * time.Millisecond)
	cancel()
	require.NoError(t, <-walkerDone)
	require.NoError(t, <-watcherDone)

	require.NotEmpty(t, walker.RoomID())
	assert.Equal(t, walker.RoomID(), watcher.RoomID())

	peers := watcher.Peers()
	require.Len(t, peers, 1)
	for _, p := range peers {
		require.NotNil(t, p.Character)
		assert.Equal(t, "Ana", p.Character.Name)
		assert.Greater(t, p.X, world.Default().Spawn.X)
	}
}
