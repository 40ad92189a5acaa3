// Package main provides a headless bot that joins a room on a relay server
// and wanders the map, for load and smoke testing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/client"
	"github.com/cory-johannsen/huddle/internal/config"
	"github.com/cory-johannsen/huddle/internal/game/character"
	"github.com/cory-johannsen/huddle/internal/game/physics"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/observability"
)

func main() {
	serverURL := flag.String("server", "ws://127.0.0.1:3000/ws", "relay WebSocket URL")
	bots := flag.IntP("bots", "n", 1, "number of bots to run")
	name := flag.String("name", "Bot", "character name prefix")
	voice := flag.Bool("voice", false, "take part in voice signaling with a silent microphone")
	stun := flag.StringSlice("stun", nil, "STUN server URLs for voice sessions")
	chatEvery := flag.Duration("chat-every", 10*time.Second, "interval between chat lines; 0 disables chat")
	seed := flag.Int64("seed", time.Now().UnixNano(), "wander seed")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, err := fetchMap(ctx, *serverURL)
	if err != nil {
		logger.Warn("using built-in map", zap.Error(err))
		level = world.Default()
	}

	var wg sync.WaitGroup
	for i := 0; i < *bots; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			botName := character.ClampText(fmt.Sprintf("%s%d", *name, i+1), character.MaxNameLen)
			botLogger := logger.With(zap.String("bot", botName))
			b := bot{
				url:       *serverURL,
				level:     level,
				desc:      character.Descriptor{Name: botName}.WithDefaults(),
				voice:     *voice,
				stun:      *stun,
				chatEvery: *chatEvery,
				seed:      *seed + int64(i),
				logger:    botLogger,
			}
			if err := b.run(ctx); err != nil {
				botLogger.Error("bot stopped", zap.Error(err))
			}
		}()
	}
	wg.Wait()
	logger.Info("all bots stopped")
	if ctx.Err() == nil {
		os.Exit(1)
	}
}

type bot struct {
	url       string
	level     *world.Map
	desc      character.Descriptor
	voice     bool
	stun      []string
	chatEvery time.Duration
	seed      int64
	logger    *zap.Logger
}

func (b bot) run(ctx context.Context) error {
	conn, err := client.Dial(ctx, b.url, b.logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	var v *client.Voice
	if b.voice {
		v = client.NewVoice(conn, client.SilentMicrophone{}, b.stun, b.logger)
		defer v.CloseAll()
	}
	params := physics.DefaultParams()
	game := client.NewGame(conn, b.level, params, b.desc, v, b.logger)
	if err := game.RequestMatch(ctx); err != nil {
		return err
	}

	input := client.Wander(b.seed)
	if v != nil || b.chatEvery > 0 {
		input = b.withChatter(ctx, game, v, input)
	}
	frame := time.Duration(params.FrameMs * float64(time.Millisecond))
	return game.Run(ctx, conn, input, frame)
}

// withChatter wraps input so that chat and voice actions happen on the frame
// loop goroutine, alongside Tick.
func (b bot) withChatter(ctx context.Context, game *client.Game, v *client.Voice, input client.InputSource) client.InputSource {
	var nextChat time.Time
	voiceTried := false
	return func(now time.Time) physics.Input {
		if game.RoomID() != "" {
			if v != nil && !voiceTried {
				voiceTried = true
				if err := v.Enable(ctx, now); err != nil {
					b.logger.Warn("voice unavailable", zap.Error(err))
				}
			}
			if b.chatEvery > 0 && !now.Before(nextChat) {
				if !nextChat.IsZero() {
					if err := game.Say(ctx, "hello from "+b.desc.Name, now); err != nil {
						b.logger.Debug("chat", zap.Error(err))
					}
				}
				nextChat = now.Add(b.chatEvery)
			}
		}
		return input(now)
	}
}

// fetchMap downloads the server's map from the /map route next to the WebSocket endpoint.
func fetchMap(ctx context.Context, wsURL string) (*world.Map, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/map"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching map: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching map: status %d", resp.StatusCode)
	}
	var m world.Map
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
