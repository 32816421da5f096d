package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luckbox/quizduel/internal/config"
	"github.com/luckbox/quizduel/internal/dbconfig"
	"github.com/luckbox/quizduel/internal/events"
	"github.com/luckbox/quizduel/internal/gateway"
	"github.com/luckbox/quizduel/internal/identity"
	"github.com/luckbox/quizduel/internal/match"
	"github.com/luckbox/quizduel/internal/matchmaking"
	"github.com/luckbox/quizduel/internal/outcome"
	"github.com/luckbox/quizduel/internal/question"
	"github.com/luckbox/quizduel/internal/session"
	"github.com/luckbox/quizduel/internal/wallet"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("GATEWAY_PORT", "8080")
	natsURL := os.Getenv("NATS_URL")
	jwtSecret := getEnv("JWT_SECRET", "dev-secret")

	gameCfg, err := config.LoadGame(os.Getenv("GAME_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load game config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	dbCfg := dbconfig.NewConfigFromEnv()
	db, err := dbCfg.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("port", port).
		Int("question_time_sec", gameCfg.QuestionTimeSec).
		Str("prize_fraction", gameCfg.PrizeFraction.String()).
		Msg("starting duel gateway")

	// Outcome event publisher; the gateway runs without a broker when
	// NATS_URL is unset.
	var publisher events.Publisher
	if natsURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = natsURL
		publisher, err = events.NewJetStreamPublisher(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
	} else {
		log.Warn().Msg("NATS_URL not set; outcome events disabled")
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	// Repositories and services
	users := identity.NewRepository(db)
	verifier := identity.NewVerifier([]byte(jwtSecret), users)
	bank := question.NewRepository(db)
	ledger := wallet.NewGateway(wallet.NewRepository(db))
	outcomes := outcome.NewRepository(db)
	sessions := session.NewDirectory()
	clock := clockwork.NewRealClock()

	// Gateway wiring: the connection manager is the engine's delivery
	// surface, so it exists before the arena and matchmaker.
	cm := gateway.NewConnectionManager(ctx, gateway.DefaultConnectionConfig())
	arena := match.NewArena(gameCfg, clock, cm, ledger, outcomes, publisher)
	mm := matchmaking.New(bank, ledger, arena, cm, clock)
	cm.SetRouter(gateway.NewHandler(cm, verifier, sessions, mm, arena))

	wsHandler := gateway.NewWebSocketHandler(cm, func() map[string]any {
		return map[string]any{
			"connections":    cm.Len(),
			"authenticated":  sessions.Len(),
			"active_matches": arena.Len(),
			"queue_depths":   mm.QueueDepths(),
		}
	})

	mux := http.NewServeMux()
	wsHandler.RegisterRoutes(mux)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"duel-gateway","connections":%d,"active_matches":%d}`,
			cm.Len(), arena.Len())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      cors.AllowAll().Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Cancelling the base context aborts live matches; each refunds its
	// players before releasing.
	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("duel gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
