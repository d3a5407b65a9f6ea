// chatprobe opens a streaming connection to the chat-completion service,
// sends one request, and prints the event stream to the console.
// Usage: go run ./cmd/chatprobe --config configs/chatstream.local.yaml --body '{"input":"hello"}'
//
// The bearer credential is taken from the config file, which supports
// ${VAR} environment expansion (e.g. credential: ${CHATSTREAM_TOKEN}).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlsen/chatstream/internal/config"
	"github.com/mkarlsen/chatstream/internal/connection"
	"github.com/mkarlsen/chatstream/internal/database"
	"github.com/mkarlsen/chatstream/internal/transcript"
	"github.com/mkarlsen/chatstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chatstream.example.yaml", "path to config file")
	conversationID := flag.String("conversation", "", "conversation id (default: random)")
	turnID := flag.String("turn", "", "turn id (default: random)")
	bodyArg := flag.String("body", `{"input":"ping"}`, "request body JSON, or @path to read from a file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("chatprobe", version.String())
		return
	}

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	body, err := loadBody(*bodyArg)
	if err != nil {
		logger.Error("failed to parse request body", "error", err)
		os.Exit(1)
	}

	convID := *conversationID
	if convID == "" {
		convID = uuid.New().String()
	}
	turn := *turnID
	if turn == "" {
		turn = uuid.New().String()
	}

	// Optional transcript recorder
	var recorder *transcript.Recorder
	if cfg.Transcript.Enabled {
		pool, err := database.Connect(ctx, cfg.Transcript.Database)
		if err != nil {
			logger.Error("failed to connect transcript database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		recorder = transcript.NewRecorder(transcript.RecorderConfig{
			BatchSize:     cfg.Transcript.BatchSize,
			FlushInterval: cfg.Transcript.FlushInterval,
		}, pool, logger)
		if err := recorder.Start(ctx); err != nil {
			logger.Error("failed to start transcript recorder", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			recorder.Stop(stopCtx)
		}()
	}

	// Create the connection registry
	registry := connection.NewRegistry(connection.RegistryConfig{
		ServiceURL:    cfg.Service.BaseURL,
		IntegrationID: cfg.Service.IntegrationID,
		Connection: connection.Config{
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
			WriteTimeout:     cfg.Connection.WriteTimeout,
			EventBufferSize:  cfg.Connection.EventBufferSize,
		},
	}, logger)
	defer registry.CloseAll()

	logger.Info("connecting", "conversation", convID, "turn", turn)
	conn, err := registry.GetOrCreate(ctx, convID, turn, cfg.Service.Credential)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	req, err := conn.Send(ctx, body)
	if err != nil {
		logger.Error("failed to send request", "error", err)
		os.Exit(1)
	}

	for ev := range req.Events() {
		if *verbose {
			fmt.Println(string(ev.Raw))
		} else {
			fmt.Println(ev.Type)
		}
		if recorder != nil {
			recorder.Record(convID, turn, ev)
		}
	}

	if err := req.Wait(ctx); err != nil {
		logger.Error("request failed", "error", err)
		os.Exit(1)
	}
	logger.Info("request completed", "conversation", convID, "turn", turn)
}

// loadBody parses the --body argument into a request body map. An argument
// starting with @ names a file to read instead.
func loadBody(arg string) (map[string]any, error) {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	return body, nil
}
