package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/config"
	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
	"github.com/cory-johannsen/huddle/internal/observability"
	"github.com/cory-johannsen/huddle/internal/testutil"
)

const wait = 2 * time.Second

type fixture struct {
	server   *httptest.Server
	gateway  *Gateway
	registry *session.Registry
	metrics  *observability.Metrics
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	registry := session.NewRegistry(session.DefaultCapacity, nil)
	svc := gameserver.NewRelayService(registry, session.NewManager(32), 50, metrics, logger)
	d := gameserver.NewDispatcher(svc, 64, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Start(ctx) }()

	cfg, err := config.LoadFromViper(config.Defaults())
	require.NoError(t, err)
	g := New(cfg.HTTP, cfg.Metrics, d, world.Default(), metrics, logger)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		g.Stop(stopCtx)
		srv.Close()
		d.Stop(stopCtx)
		cancel()
	})
	return &fixture{server: srv, gateway: g, registry: registry, metrics: metrics}
}

func matchPair(t *testing.T, f *fixture) (*testutil.WSClient, *testutil.WSClient, string) {
	t.Helper()
	a := testutil.NewWSClient(t, f.wsURL())
	a.Send(gameserver.EventRequestMatch, map[string]any{"character": map[string]any{"name": "Ana"}})
	var created gameserver.RoomPayload
	a.Expect(gameserver.EventRoomCreated, wait).Decode(t, &created)
	require.NotEmpty(t, created.RoomID)

	b := testutil.NewWSClient(t, f.wsURL())
	b.Send(gameserver.EventRequestMatch, map[string]any{"character": map[string]any{"name": "Bo"}})
	var joined gameserver.RoomPayload
	b.Expect(gameserver.EventRoomJoined, wait).Decode(t, &joined)
	require.Equal(t, created.RoomID, joined.RoomID)
	return a, b, created.RoomID
}

func TestGateway_TwoClientsMatch(t *testing.T) {
	f := newFixture(t)
	a, b, _ := matchPair(t, f)

	var players []gameserver.PlayerState
	b.Expect(gameserver.EventCurrentPlayers, wait).Decode(t, &players)
	require.Len(t, players, 1)
	assert.Equal(t, "Ana", players[0].Character.Name)

	var joined gameserver.PlayerPayload
	a.Expect(gameserver.EventPlayerJoined, wait).Decode(t, &joined)
	assert.NotEmpty(t, joined.PlayerID)
	require.NotNil(t, joined.Character)
	assert.Equal(t, "Bo", joined.Character.Name)
	assert.Equal(t, 1, f.registry.RoomCount())
}

func TestGateway_DisconnectNotifiesPartner(t *testing.T) {
	f := newFixture(t)
	a, b, _ := matchPair(t, f)
	a.Expect(gameserver.EventPlayerJoined, wait)

	b.Close()
	a.Expect(gameserver.EventPlayerLeft, wait)
	a.Expect(gameserver.EventPartnerLeft, wait)
	assert.Equal(t, 1, f.registry.RoomCount())
}

func TestGateway_ChatReachesWholeRoom(t *testing.T) {
	f := newFixture(t)
	a, b, roomID := matchPair(t, f)
	a.Expect(gameserver.EventPlayerJoined, wait)

	a.Send(gameserver.EventChatMessage, map[string]any{"roomId": roomID, "message": "  hello  "})

	var got gameserver.ChatPayload
	a.Expect(gameserver.EventChatMessage, wait).Decode(t, &got)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "Ana", got.Name)
	b.Expect(gameserver.EventChatMessage, wait).Decode(t, &got)
	assert.Equal(t, "hello", got.Message)
}

func TestGateway_MalformedFrameKeepsSession(t *testing.T) {
	f := newFixture(t)
	a := testutil.NewWSClient(t, f.wsURL())

	a.SendRaw("not json")
	a.SendRaw(`{"data":{}}`)
	a.Send(gameserver.EventRequestMatch, nil)
	a.Expect(gameserver.EventRoomCreated, wait)
}

func TestGateway_ServesMap(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/map")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var m world.Map
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, world.Default().ID, m.ID)
	assert.Len(t, m.Obstacles, len(world.Default().Obstacles))
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	a := testutil.NewWSClient(t, f.wsURL())
	a.Send(gameserver.EventRequestMatch, nil)
	a.Expect(gameserver.EventRoomCreated, wait)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "huddle_rooms_active 1")
	assert.Contains(t, string(body), `huddle_matches_total{result="created"} 1`)
}

func TestGateway_UnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_StopEndsSessions(t *testing.T) {
	f := newFixture(t)
	a := testutil.NewWSClient(t, f.wsURL())
	a.Send(gameserver.EventRequestMatch, nil)
	a.Expect(gameserver.EventRoomCreated, wait)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.gateway.Stop(ctx)

	a.ExpectClosed(wait)
	assert.False(t, f.gateway.IsRunning())
}
