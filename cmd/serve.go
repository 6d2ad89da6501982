package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/resale-arb/internal/ingest"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/orchestrator"
	"github.com/sells-group/resale-arb/internal/store"
)

var servePort int

// scanRunner runs a scan over already parsed candidates.
type scanRunner interface {
	Scan(ctx context.Context, candidates []model.Candidate, budget int) (*orchestrator.Result, error)
}

// decisionLister reads stored decisions.
type decisionLister interface {
	RecentDecisions(ctx context.Context, limit int, minSpread float64) ([]model.Decision, error)
}

// apiConfig holds request defaults for the HTTP API.
type apiConfig struct {
	Budget    int
	MinSpread float64
}

type scanRequest struct {
	Budget     *int            `json:"budget"`
	Candidates []ingest.Record `json:"candidates"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for scans and decision lookups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg.Server.Port = resolvePort(servePort, cfg.Server.Port)

		env, err := initScanEnv(ctx, cfg, "serve", "")
		if err != nil {
			return err
		}
		defer env.Close()

		var lister decisionLister
		if env.Store != nil {
			lister = env.Store
		}
		if env.Checker != nil && env.Store != nil {
			go env.Checker.Run(ctx)
		}

		router := buildRouter(env.Orchestrator, lister, apiConfig{
			Budget:    cfg.Scan.Budget,
			MinSpread: cfg.Scan.NotifyThreshold,
		})
		return startServer(ctx, router, cfg.Server.Port)
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// buildRouter wires the API routes. lister may be nil when no store is
// configured; the decisions endpoint then answers 503. Only one scan runs at
// a time; concurrent requests get 429.
func buildRouter(runner scanRunner, lister decisionLister, api apiConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	scans := semaphore.NewWeighted(1)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scan", handleScan(runner, scans, api))
		r.Get("/decisions", handleDecisions(lister, api))
	})

	return r
}

func handleScan(runner scanRunner, scans *semaphore.Weighted, api apiConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		candidates := ingest.Candidates(req.Candidates)
		if len(candidates) == 0 {
			writeError(w, http.StatusBadRequest, "no valid candidates")
			return
		}
		budget := api.Budget
		if req.Budget != nil {
			if *req.Budget < 0 {
				writeError(w, http.StatusBadRequest, "budget must be >= 0")
				return
			}
			budget = *req.Budget
		}

		if !scans.TryAcquire(1) {
			writeError(w, http.StatusTooManyRequests, "a scan is already running")
			return
		}
		defer scans.Release(1)

		res, err := runner.Scan(r.Context(), candidates, budget)
		if res == nil {
			zap.L().Error("api: scan failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		if err != nil {
			zap.L().Warn("api: scan interrupted", zap.String("run_id", res.Report.ID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDecisions(lister decisionLister, api apiConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lister == nil {
			writeError(w, http.StatusServiceUnavailable, "no store configured")
			return
		}

		limit := store.DefaultRecentLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		minSpread := api.MinSpread
		if v := r.URL.Query().Get("min_spread"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "min_spread must be a number")
				return
			}
			minSpread = f
		}

		decisions, err := lister.RecentDecisions(r.Context(), limit, minSpread)
		if err != nil {
			zap.L().Error("api: recent decisions failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load decisions")
			return
		}
		if decisions == nil {
			decisions = []model.Decision{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
	}
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	<-done
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
