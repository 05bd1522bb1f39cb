package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/alert"
	"github.com/hward/marketboard/internal/analyzer"
	"github.com/hward/marketboard/internal/bus"
	"github.com/hward/marketboard/internal/cache"
	"github.com/hward/marketboard/internal/config"
	"github.com/hward/marketboard/internal/feed"
	"github.com/hward/marketboard/internal/logging"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/resync"
	"github.com/hward/marketboard/internal/scope"
	"github.com/hward/marketboard/internal/store"
	"github.com/hward/marketboard/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketd.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting marketd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	provider, err := store.Connect(ctx, cfg.Database.Postgres, cfg.Cache.SaleWindow, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer provider.Close()
	logger.Info("database connected")

	// Build the scope index from world metadata
	seeds, err := provider.WorldSeeds(ctx)
	if err != nil {
		logger.Error("failed to load world metadata", "error", err)
		os.Exit(1)
	}
	index, err := scope.NewIndex(seeds)
	if err != nil {
		logger.Error("failed to build scope index", "error", err)
		os.Exit(1)
	}
	logger.Info("scope index built", "worlds", len(index.AllWorlds()))

	// Event hub
	hub := bus.NewHub(bus.HubConfig{
		ListingsCapacity:  cfg.Bus.ListingsCapacity,
		SalesCapacity:     cfg.Bus.SalesCapacity,
		RetainersCapacity: cfg.Bus.RetainersCapacity,
		AlertsCapacity:    cfg.Bus.AlertsCapacity,
		UndercutsCapacity: cfg.Bus.UndercutsCapacity,
	})
	defer hub.Close()

	// Market cache and resync sweeper
	market := cache.New(cache.Config{SaleWindow: cfg.Cache.SaleWindow}, index, logger)

	sweeper := resync.New(resync.Config{
		Interval:    cfg.Resync.Interval,
		Concurrency: cfg.Resync.Concurrency,
		Timeout:     cfg.Resync.Timeout,
	}, provider, market, index, logger)

	consumer := cache.NewConsumer(market, hub, func(reason string) {
		sweeper.Request(reason)
	}, logger)

	// Analytics over the cache
	resaleAnalyzer := analyzer.New(market, index, analyzer.TravelCosts{
		SameWorld:      cfg.Travel.SameWorld,
		SameDatacenter: cfg.Travel.SameDatacenter,
		CrossDC:        cfg.Travel.CrossDC,
	}, logger)

	// Alert evaluation
	evaluator := alert.NewEvaluator(index, hub, logger)

	// Feed client
	transport := feed.NewWebsocketTransport()
	feedClient := feed.NewClient(feed.Config{
		URL:               cfg.Feed.URL,
		ReconnectBaseWait: cfg.Feed.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Feed.ReconnectMaxWait,
	}, transport, hub, logger)

	for _, channel := range []string{feed.ChannelListingsAdd, feed.ChannelListingsRemove, feed.ChannelSalesAdd} {
		if err := feedClient.Subscribe(channel, 0); err != nil {
			logger.Error("failed to register feed subscription", "channel", channel, "error", err)
			os.Exit(1)
		}
	}

	// Start consumers before the feed so nothing published is unobserved.
	logger.Info("starting cache consumer...")
	if err := consumer.Start(ctx); err != nil {
		logger.Error("failed to start cache consumer", "error", err)
		os.Exit(1)
	}
	defer stopComponent(consumer.Stop, "cache consumer", logger)

	logger.Info("starting alert evaluator...")
	if err := evaluator.Start(ctx); err != nil {
		logger.Error("failed to start alert evaluator", "error", err)
		os.Exit(1)
	}
	defer stopComponent(evaluator.Stop, "alert evaluator", logger)

	logger.Info("starting resync sweeper...")
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start resync sweeper", "error", err)
		os.Exit(1)
	}
	defer stopComponent(sweeper.Stop, "resync sweeper", logger)

	logger.Info("starting feed client...")
	if err := feedClient.Start(ctx); err != nil {
		logger.Error("failed to start feed client", "error", err)
		os.Exit(1)
	}
	defer stopComponent(feedClient.Stop, "feed client", logger)

	// Query/health server
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: newHandler(provider, index, market, resaleAnalyzer, evaluator, feedClient, sweeper.Request, logger),
	}
	go func() {
		logger.Info("starting http server", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("marketd running", "instance_id", cfg.Instance.ID)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	logger.Info("marketd stopped")
}

// stopComponent stops a component with a bounded grace period.
func stopComponent(stop func(context.Context) error, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("component stop failed", "component", name, "error", err)
	}
}

// newHandler serves health checks, read-only market queries, and the admin
// resync trigger.
func newHandler(provider *store.Provider, index *scope.Index, market *cache.Market, a *analyzer.Analyzer, evaluator *alert.Evaluator, feedClient *feed.Client, requestResync func(reason string), logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status string            `json:"status"`
			Feed   string            `json:"feed"`
			Detail map[string]string `json:"detail,omitempty"`
		}{
			Status: "healthy",
			Feed:   feedClient.State().String(),
		}

		if err := provider.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Detail = map[string]string{"database": err.Error()}
		} else if feedClient.State() != feed.StateStreaming {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/v1/cheapest", func(w http.ResponseWriter, r *http.Request) {
		sel, ok := resolveScope(w, r, index)
		if !ok {
			return
		}
		view, err := market.ReadCheapest(sel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		type entry struct {
			Item  model.ItemID  `json:"item"`
			HQ    bool          `json:"hq"`
			Price int64         `json:"price"`
			World model.WorldID `json:"world"`
		}
		out := make([]entry, 0, len(view))
		for key, e := range view {
			out = append(out, entry{Item: key.Item, HQ: key.HQ, Price: e.Price, World: e.World})
		}
		writeJSON(w, map[string]any{"scope": sel.String(), "entries": out})
	})

	mux.HandleFunc("/v1/resale", func(w http.ResponseWriter, r *http.Request) {
		sel, ok := resolveScope(w, r, index)
		if !ok {
			return
		}
		opts := analyzer.ResaleOptions{}
		if v := r.URL.Query().Get("min_profit"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid min_profit", http.StatusBadRequest)
				return
			}
			opts.MinimumProfit = n
		}
		stats, err := a.BestResale(sel, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"scope": sel.String(), "candidates": stats})
	})

	mux.HandleFunc("/v1/trends", func(w http.ResponseWriter, r *http.Request) {
		worldParam := r.URL.Query().Get("world")
		id, err := strconv.ParseInt(worldParam, 10, 32)
		if err != nil {
			http.Error(w, "world parameter required", http.StatusBadRequest)
			return
		}
		trends, err := a.WorldTrends(model.WorldID(id))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, trends)
	})

	mux.HandleFunc("/v1/resync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		requestResync("admin request")
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/v1/alerts/price", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Owner     string       `json:"owner"`
				Item      model.ItemID `json:"item"`
				Scope     string       `json:"scope"`
				Threshold int64        `json:"threshold"`
				Quality   string       `json:"quality"` // any, normal, hq
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			sel, err := index.ResolveName(req.Scope)
			if err != nil {
				http.Error(w, fmt.Sprintf("unknown scope %q", req.Scope), http.StatusNotFound)
				return
			}
			var quality alert.Quality
			switch req.Quality {
			case "", "any":
				quality = alert.AnyQuality
			case "normal":
				quality = alert.NormalOnly
			case "hq":
				quality = alert.HighOnly
			default:
				http.Error(w, "quality must be any, normal, or hq", http.StatusBadRequest)
				return
			}
			id, err := evaluator.RegisterPrice(req.Owner, req.Item, sel, req.Threshold, quality)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]any{"id": id})

		case http.MethodDelete:
			id, err := uuid.Parse(r.URL.Query().Get("id"))
			if err != nil {
				http.Error(w, "id parameter required", http.StatusBadRequest)
				return
			}
			if err := evaluator.RemovePrice(id); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/alerts/undercut", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Owner         string               `json:"owner"`
				MarginPercent int64                `json:"margin_percent"`
				Retainers     map[uuid.UUID]string `json:"retainers"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			id, err := evaluator.RegisterUndercut(req.Owner, req.MarginPercent, req.Retainers)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]any{"id": id})

		case http.MethodDelete:
			id, err := uuid.Parse(r.URL.Query().Get("id"))
			if err != nil {
				http.Error(w, "id parameter required", http.StatusBadRequest)
				return
			}
			if err := evaluator.RemoveUndercut(id); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return mux
}

// resolveScope reads the scope query parameter as a world, datacenter, or
// region name.
func resolveScope(w http.ResponseWriter, r *http.Request, index *scope.Index) (scope.Selector, bool) {
	name := r.URL.Query().Get("scope")
	if name == "" {
		http.Error(w, "scope parameter required", http.StatusBadRequest)
		return scope.Selector{}, false
	}
	sel, err := index.ResolveName(name)
	if err != nil {
		http.Error(w, fmt.Sprintf("unknown scope %q", name), http.StatusNotFound)
		return scope.Selector{}, false
	}
	return sel, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
