package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assert"
	assetsHandler "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assets-handler"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/bot"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/events"
	safews "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/safe-ws"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/shutdown"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/utils/mapx"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/utils/pathx"

	"github.com/gorilla/websocket"
)

const (
	runModeFast  = "fast"
	runModeWarm  = "warm"
	runModeFleet = "fleet"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go shutdown.HandleSIGTERM(cancel)
	assert.LoadCtxCancel(cancel)

	slogHandler := slog.NewTextHandler(
		os.Stderr,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	)
	slog.SetDefault(slog.New(slogHandler))

	statusLogFile, err := os.OpenFile(
		pathx.FromCwd(os.Getenv("STATUS_LOG_FILE")),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0o666,
	)
	assert.NoError(err, "status log file must be created to start the bot")
	defer statusLogFile.Close()

	config := assetsHandler.GetConfigFromFile(pathx.FromCwd(os.Getenv("CONFIG_FILE")))
	profiles := assetsHandler.GetProfilesFromFile(pathx.FromCwd(os.Getenv("PROFILES_FILE")))
	proxies := assetsHandler.GetProxiesFromFile(pathx.FromCwd(os.Getenv("PROXIES_FILE")))

	runMode := os.Getenv("RUN_MODE")
	if runMode == "" {
		runMode = runModeFast
	}

	dialer := websocket.Dialer{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	broadcaster := &events.Broadcaster{Conns: make([]*safews.SafeConn, len(config.Events.WsUrls))}
	validFormatHeaders := mapx.StringToStringsList(config.Events.WsHeaders)
	for idx, wsUrl := range config.Events.WsUrls {
		conn, _, err := dialer.Dial(
			wsUrl,
			validFormatHeaders,
		)
		assert.NoError(err, "error connecting to websocket", assert.AssertData{"url": wsUrl})
		defer conn.Close()
		conn.SetReadDeadline(time.Time{})
		slog.Info(fmt.Sprintf("connected to websocket with url: %s", wsUrl))
		broadcaster.Conns[idx] = safews.NewSafeConn(conn)
	}

	b := bot.New(bot.Options{
		Engine:       config.EngineConfig(),
		Settings:     config.CheckoutSettings(),
		Fleet:        config.FleetConfig(),
		SnapshotPath: pathx.FromCwd(config.Session.SnapshotPath),
		Sink:         events.Multi(broadcaster.Sink, events.NewStatusLog(statusLogFile).Sink),
	})
	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	var result any
	switch runMode {
	case runModeFast:
		result = b.RunFast(ctx, config.CheckoutTarget(profiles[0]))
	case runModeWarm:
		target := config.CheckoutTarget(profiles[0])
		warm := b.WarmSession(ctx, target)
		if !warm.Success {
			result = warm
			break
		}
		startAt, _ := config.StartAt()
		waitUntil(ctx, startAt)
		result = b.RunFromWarm(ctx, target)
	case runModeFleet:
		fleetResult, err := b.LaunchFleet(ctx, profiles, config.CheckoutTarget(profiles[0]), proxies)
		assert.NoError(err, "error launching fleet", assert.AssertData{"profiles": len(profiles)})
		result = fleetResult
	default:
		assert.Never("unknown run mode", assert.AssertData{"RUN_MODE": runMode})
	}

	output, err := json.MarshalIndent(result, "", "  ")
	assert.NoError(err, "error marshalling result")
	fmt.Println(string(output))
}

func waitUntil(ctx context.Context, startAt time.Time) {
	wait := time.Until(startAt)
	if startAt.IsZero() || wait <= 0 {
		return
	}

	slog.Info("waiting for release", "startAt", startAt.Format(time.RFC3339), "in", wait.Round(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
