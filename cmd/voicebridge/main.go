// Command voicebridge runs the real-time voice-agent telephony bridge:
// it wires every internal component together and serves the carrier
// media-stream and outbound-call HTTP surface. Grounded on the teacher's
// examples/sip-test/main.go signal-handling idiom and, for the HTTP
// server lifecycle the sip-test client doesn't model, the
// flowpbx-flowpbx teacher-adjacent repo's cmd/flowpbx/main.go
// (config load -> db open -> servers started in goroutines reporting to
// an error channel -> select on signal/error -> bounded Shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/voicebridge/voicebridge/internal/agentstore"
	"github.com/voicebridge/voicebridge/internal/cache"
	"github.com/voicebridge/voicebridge/internal/callstore"
	"github.com/voicebridge/voicebridge/internal/carrier"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/filler"
	"github.com/voicebridge/voicebridge/internal/logging"
	"github.com/voicebridge/voicebridge/internal/modelclient"
	"github.com/voicebridge/voicebridge/internal/orchestrator"
	"github.com/voicebridge/voicebridge/internal/telephony"
	workflow_routers "github.com/voicebridge/voicebridge/router"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env vars override)")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebridge: config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: settings.LogLevel, FilePath: settings.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebridge: logging: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("voicebridge: starting, http_addr=%s database_driver=%s", settings.HTTPAddr, settings.DatabaseDriver)

	db, err := openDatabase(*settings)
	if err != nil {
		logger.Errorf("voicebridge: database open failed: %v", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&callstore.CallContext{}, &callstore.TranscriptRecord{}, &agentstore.Record{}); err != nil {
		logger.Errorf("voicebridge: automigrate failed: %v", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if settings.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	}

	var genaiClient *genai.Client
	if settings.UpstreamAPIKey != "" {
		genaiClient, err = genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: settings.UpstreamAPIKey})
		if err != nil {
			logger.Warnw("voicebridge: genai client init failed, context caching disabled", "error", err)
		}
	}

	cacheManager := cache.New(logger, redisClient, genaiClient)
	callStore := callstore.NewStore(db)
	transcripts := callstore.NewTranscriptStore(db)
	agents := agentstore.NewStore(db)
	dispatcher := telephony.New(logger, settings.Twilio, settings.Vonage)
	fillerSelector := filler.NewDefaultSelector(nil) // no clips preloaded by default; operators seed via a future admin surface

	upstreamEndpoint := fmt.Sprintf("wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent?key=%s", settings.UpstreamAPIKey)

	orchDeps := orchestrator.Deps{
		Logger:         logger,
		CacheManager:   cacheManager,
		CallStore:      callStore,
		Transcripts:    transcripts,
		FillerSelector: fillerSelector,
		ModelEndpoint:  upstreamEndpoint,
		ModelModel:     settings.UpstreamModel,
		DialModel:      modelclient.Connect,
	}

	routerDeps := workflow_routers.Deps{
		Logger:     logger,
		CallStore:  callStore,
		Dispatcher: dispatcher,
		LoadAgentConfig: func(ctx context.Context, agentID string) (config.AgentConfig, error) {
			return agents.Get(ctx, agentID)
		},
		NewSession: func(ctx context.Context, callID string, agent config.AgentConfig, adapter carrier.Adapter) (*orchestrator.Session, error) {
			return orchestrator.New(ctx, orchDeps, callID, agent, adapter)
		},
	}

	engine := workflow_routers.NewEngine(routerDeps)
	srv := &http.Server{
		Addr:         settings.HTTPAddr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // media-stream connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("voicebridge: http server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof("voicebridge: received shutdown signal %s", sig.String())
	case err := <-errCh:
		logger.Errorf("voicebridge: http server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("voicebridge: http server shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Infof("voicebridge: stopped")
}

// openDatabase opens the configured gorm driver, following spec.md
// §6.5's "a relational store" requirement generalized to the teacher's
// dual postgres/sqlite driver support (go.mod carries both).
func openDatabase(s config.Settings) (*gorm.DB, error) {
	switch s.DatabaseDriver {
	case "postgres":
		return gorm.Open(postgres.Open(s.DatabaseDSN), &gorm.Config{})
	case "sqlite", "":
		dsn := s.DatabaseDSN
		if dsn == "" {
			dsn = "voicebridge.db"
		}
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("voicebridge: unknown database driver %q", s.DatabaseDriver)
	}
}
