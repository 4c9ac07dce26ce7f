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

	"cssd/internal/api"
	"cssd/internal/config"
	"cssd/internal/database"
	"cssd/internal/engine"
	"cssd/internal/events"
	"cssd/internal/ledger"
	"cssd/internal/metrics"
	"cssd/internal/models"
	"cssd/internal/overdue"
	"cssd/internal/packs"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	port        = flag.Int("port", 0, "API server port (overrides config)")
	metricsPort = flag.Int("metrics-port", 0, "Metrics server port (overrides config)")
	configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *metricsPort != 0 {
		cfg.MetricsPort = *metricsPort
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if err := database.InitDB(cfg.Database.Dialect, cfg.Database.DSN); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.CloseDB()
	db := database.GetDB()

	hub := events.NewHub()
	recorder := metrics.NewRecorder()
	monitor := metrics.NewMonitor()
	stockLedger := ledger.New(ledger.Publishers{hub, recorder})
	tracker := packs.NewTracker(stockLedger, cfg.ShelfLife())
	eng := engine.New(db, stockLedger, tracker)

	server := api.NewServer(db, eng, stockLedger, tracker, hub, recorder, monitor, cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startMetricsServer(cfg.MetricsPort, recorder)
	go overdueSweep(ctx, hub, recorder, cfg.SweepInterval())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		cancel()
	}()

	log.Info().Int("port", cfg.Port).Msg("starting API server")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("API server error")
	}
}

func startMetricsServer(port int, recorder *metrics.Recorder) {
	router := gin.New()
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})))

	log.Info().Int("port", port).Msg("starting metrics server")
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server error")
	}
}

// overdueSweep periodically checks every active unit for overdue lines and
// pushes alerts to the event feed and gauges.
func overdueSweep(ctx context.Context, hub *events.Hub, recorder *metrics.Recorder, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db := database.GetDB()
			var units []models.Unit
			if err := db.Where("is_active = ?", true).Find(&units).Error; err != nil {
				log.Error().Err(err).Msg("overdue sweep failed to list units")
				continue
			}
			now := time.Now()
			for _, unit := range units {
				has, lines, err := overdue.UnitOverdue(db, unit.ID, now)
				if err != nil {
					log.Error().Err(err).Str("unit", unit.Code).Msg("overdue check failed")
					continue
				}
				recorder.SetOverdueLines(unit.Code, len(lines))
				if has {
					log.Warn().Str("unit", unit.Code).Int("lines", len(lines)).Msg("unit has overdue stock")
					hub.OverdueAlert(map[string]interface{}{"unit": unit.Code, "lines": lines})
				}
			}
		}
	}
}
