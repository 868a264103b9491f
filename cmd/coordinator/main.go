package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"video-chess/internal/auth"
	"video-chess/internal/config"
	"video-chess/internal/game"
	"video-chess/internal/logging"
	"video-chess/internal/matchmaking"
	"video-chess/internal/pump"
	"video-chess/internal/queue"
	"video-chess/internal/session"
	"video-chess/internal/store"
	"video-chess/internal/task"
	"video-chess/internal/ws"
)

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("load server config failed")
	}

	st, err := store.New(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	if err := st.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	q, err := queue.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}

	tasks := task.NewQueue(q, queue.WriteQueue)
	sessions := session.NewRegistry(st, tasks)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	wsSrv := ws.NewServer(verifier, st, sessions)
	engine := matchmaking.New(q, tasks, wsSrv, cfg.MatchmakingSweepInterval)
	wsSrv.SetMatchmaker(engine)
	writer := pump.New(q, st, cfg.WriterIdleInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go engine.Run(ctx)
	go writer.Run(ctx)

	r := newRouter(st, wsSrv, verifier)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := q.Close(); err != nil {
		log.Error().Err(err).Msg("redis close failed")
	}
	st.Close()
}

func newRouter(st *store.Store, wsSrv *ws.Server, verifier *auth.Verifier) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(apiLogMiddleware()).Get("/healthz", healthHandler(st))
	r.With(apiLogMiddleware()).Post("/api/games", createGameHandler(st, verifier))
	r.Get("/ws", wsSrv.HandleWS)
	return r
}

func apiLogMiddleware() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:  slog.LevelInfo,
			Schema: httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
				}
			},
		},
	)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(st pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "db": "down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "db": "up"})
	}
}

type gameCreator interface {
	UpsertUser(ctx context.Context, id, name string, guest bool) error
	CreateSession(ctx context.Context, id string, whitePlayerID *string, timeControl int, initialTimeMS int64) error
}

// createGameHandler originates an open session that waits for players to
// join over the websocket. Seats are assigned on join, not here.
func createGameHandler(st gameCreator, verifier *auth.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := verifier.Verify(bearerToken(r))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		var req struct {
			TimeControl int `json:"timeControl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TimeControl <= 0 {
			http.Error(w, "invalid time control", http.StatusBadRequest)
			return
		}

		if err := st.UpsertUser(r.Context(), identity.ID, identity.Name, identity.Guest); err != nil {
			log.Error().Err(err).Str("user_id", identity.ID).Msg("user upsert failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		id := uuid.NewString()
		initialMS := int64(req.TimeControl) * 1000
		if err := st.CreateSession(r.Context(), id, nil, req.TimeControl, initialMS); err != nil {
			log.Error().Err(err).Str("game_id", id).Msg("create session failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		log.Info().Str("game_id", id).Str("creator", identity.ID).Int("time_control", req.TimeControl).Msg("game created")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"gameId": id, "fen": game.StartFEN})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
