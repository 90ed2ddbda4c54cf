package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/snapline/dbopen"
	"github.com/hazyhaar/snapline/idgen"
	"github.com/hazyhaar/snapline/imaging"
	"github.com/hazyhaar/snapline/insight"
	"github.com/hazyhaar/snapline/kit"
	"github.com/hazyhaar/snapline/kvstore"
	"github.com/hazyhaar/snapline/timeline"
	"github.com/hazyhaar/snapline/vision"
)

func main() {
	cfg, err := loadConfig(env("CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging. Stdout carries the MCP protocol when running over stdio, so
	// logs go to stderr in that mode.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logOut := os.Stdout
	if cfg.MCPTransport == "stdio" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Storage.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backend, err := kvstore.NewSQLite(db)
	if err != nil {
		slog.Error("kv backend", "error", err)
		os.Exit(1)
	}
	cfg.Storage.Logger = logger
	store := kvstore.New(backend, cfg.Storage)

	// Service wiring.
	cfg.Imaging.Logger = logger
	cfg.Vision.Logger = logger
	cfg.Insight.Logger = logger
	mgr := timeline.NewManager(timeline.ManagerConfig{
		Store:      store,
		Compressor: imaging.New(cfg.Imaging),
		Logger:     logger,
	})
	pipeline := insight.NewPipeline(
		insight.NewRetriever(cfg.Insight),
		insight.NewSynthesizer(cfg.Synth),
		logger)
	svc := timeline.NewService(mgr, vision.New(cfg.Vision), pipeline, logger)

	// MCP over stdio replaces the HTTP surface entirely.
	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "snapline", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		slog.Info("MCP stdio starting")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	// Router.
	r := chi.NewRouter()
	r.Use(requestContext(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/storage", func(w http.ResponseWriter, r *http.Request) {
		usage, err := store.Usage(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]int64{"usage": usage, "ceiling": store.Ceiling()})
	})

	// Comparisons.
	r.Post("/api/compare", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageA  string `json:"imageA"`
			ImageB  string `json:"imageB"`
			Context string `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		cmp, err := svc.Compare(r.Context(), req.ImageA, req.ImageB, req.Context)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, 201, cmp)
	})

	r.Get("/api/comparisons", func(w http.ResponseWriter, r *http.Request) {
		list, err := mgr.ListAllComparisons(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if list == nil {
			list = []*timeline.Comparison{}
		}
		writeJSON(w, 200, list)
	})

	r.Get("/api/comparisons/{id}", func(w http.ResponseWriter, r *http.Request) {
		cmp, err := mgr.GetComparison(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if cmp == nil {
			writeJSON(w, 404, map[string]string{"error": "comparison not found"})
			return
		}
		writeJSON(w, 200, cmp)
	})

	r.Delete("/api/comparisons/{id}", func(w http.ResponseWriter, r *http.Request) {
		ok := mgr.DeleteComparison(r.Context(), chi.URLParam(r, "id"))
		writeJSON(w, 200, map[string]bool{"deleted": ok})
	})

	r.Post("/api/comparisons/{id}/feedback", func(w http.ResponseWriter, r *http.Request) {
		var fb timeline.Feedback
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
			writeError(w, 400, err)
			return
		}
		cmp, err := mgr.SetComparisonFeedback(r.Context(), chi.URLParam(r, "id"), fb)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if cmp == nil {
			writeJSON(w, 404, map[string]string{"error": "comparison not found"})
			return
		}
		writeJSON(w, 200, cmp)
	})

	r.Post("/api/comparisons/{id}/convert", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		tl, err := mgr.ConvertComparisonToTimeline(r.Context(), chi.URLParam(r, "id"), req.Title)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if tl == nil {
			writeJSON(w, 404, map[string]string{"error": "comparison not found"})
			return
		}
		writeJSON(w, 201, tl)
	})

	// Timelines.
	r.Get("/api/timelines", func(w http.ResponseWriter, r *http.Request) {
		list, err := mgr.ListAll(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if list == nil {
			list = []*timeline.Timeline{}
		}
		writeJSON(w, 200, list)
	})

	r.Get("/api/timelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		tl, err := mgr.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if tl == nil {
			writeJSON(w, 404, map[string]string{"error": "timeline not found"})
			return
		}
		writeJSON(w, 200, tl)
	})

	r.Delete("/api/timelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		ok := mgr.Delete(r.Context(), chi.URLParam(r, "id"))
		writeJSON(w, 200, map[string]bool{"deleted": ok})
	})

	r.Post("/api/timelines/{id}/screenshots", func(w http.ResponseWriter, r *http.Request) {
		var req timeline.RawScreenshot
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		tl, rep, err := svc.ExtendTimeline(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if tl == nil {
			writeJSON(w, 404, map[string]string{"error": "timeline not found"})
			return
		}
		writeJSON(w, 201, map[string]any{"timeline": tl, "report": rep})
	})

	r.Post("/api/timelines/{id}/reports/{reportID}/feedback", func(w http.ResponseWriter, r *http.Request) {
		var fb timeline.Feedback
		if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
			writeError(w, 400, err)
			return
		}
		tl, err := mgr.SetReportFeedback(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "reportID"), fb)
		if err != nil {
			writeMapped(w, err)
			return
		}
		if tl == nil {
			writeJSON(w, 404, map[string]string{"error": "timeline not found"})
			return
		}
		writeJSON(w, 200, tl)
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second, // model calls run inside handlers
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// requestContext tags each request with the transport label and a fresh
// request id so handler logs can be correlated across the stack.
func requestContext(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := kit.WithTransport(r.Context(), "http")
			ctx = kit.WithRequestID(ctx, idgen.New())
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", kit.GetRequestID(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeMapped translates the service error taxonomy to HTTP status codes:
// validation 400, bad image 422, quota 507, model timeout 504, other
// upstream failures 502, everything else 500.
func writeMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeline.ErrInvalidInput):
		writeError(w, 400, err)
	case errors.Is(err, imaging.ErrDecode):
		writeError(w, 422, err)
	case errors.Is(err, kvstore.ErrQuotaExceeded):
		writeError(w, 507, err)
	case errors.Is(err, vision.ErrTimeout):
		writeError(w, 504, err)
	case errors.Is(err, vision.ErrUpstream), errors.Is(err, vision.ErrBadPayload):
		writeError(w, 502, err)
	default:
		writeError(w, 500, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
