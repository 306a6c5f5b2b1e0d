package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/halvorsveen/rove/internal/api/http"
	"github.com/halvorsveen/rove/internal/catalog"
	"github.com/halvorsveen/rove/internal/config"
	"github.com/halvorsveen/rove/internal/dataswitch"
	"github.com/halvorsveen/rove/internal/dataswitch/connectors"
	"github.com/halvorsveen/rove/internal/harness"
	"github.com/halvorsveen/rove/internal/pool"
	"github.com/halvorsveen/rove/internal/qcalgo"
	"github.com/halvorsveen/rove/internal/scheduler"
	"github.com/halvorsveen/rove/internal/statsjob"
)

// buildCatalog registers the real QC tests this deployment runs, wiring
// internal/qcalgo's functions in as catalog.Algo handles. Dependency
// shape: range_check is every series test's prerequisite (a point must be
// in-bounds before dip/step/freeze are meaningful); spatial_consistency
// depends on buddy_check completing first.
func buildCatalog() (*catalog.Catalog, error) {
	entries := []catalog.Entry{
		{
			ID:   "range_check",
			Kind: catalog.SeriesTest,
			Algo: qcalgo.SeriesSpec{Fn: qcalgo.RangeCheck, High: 50, Low: -50},
		},
		{
			ID:   "dip_check",
			Kind: catalog.SeriesTest,
			Deps: []catalog.TestId{"range_check"},
			Algo: qcalgo.SeriesSpec{Fn: qcalgo.DipCheck, High: 8, Low: 3, LeadingPoints: 1},
		},
		{
			ID:   "step_check",
			Kind: catalog.SeriesTest,
			Deps: []catalog.TestId{"range_check"},
			Algo: qcalgo.SeriesSpec{Fn: qcalgo.StepCheck, High: 6, Low: 2, LeadingPoints: 1},
		},
		{
			ID:   "freeze_check",
			Kind: catalog.SeriesTest,
			Deps: []catalog.TestId{"range_check"},
			Algo: qcalgo.SeriesSpec{Fn: qcalgo.FreezeCheck, High: 0, Low: 4},
		},
		{
			ID:   "buddy_check",
			Kind: catalog.SpatialTest,
			Algo: qcalgo.SpatialSpec{Fn: qcalgo.BuddyCheck, High: 3, Low: 2},
		},
		{
			ID:   "spatial_consistency_check",
			Kind: catalog.SpatialTest,
			Deps: []catalog.TestId{"buddy_check"},
			Algo: qcalgo.SpatialSpec{Fn: qcalgo.SpatialConsistencyCheck, High: 8, Low: 3},
		},
	}
	return catalog.New(entries)
}

func buildSwitch(cfg *config.AppConfig) *dataswitch.Switch {
	httpClient := &http.Client{Timeout: 10 * time.Second}

	memory := connectors.NewMemoryConnector()
	frost := connectors.NewFrostConnector(httpClient, cfg.FrostBaseURL)
	geocoded := connectors.NewGeocodedConnector(frost, cfg.GeocoderAPIKey)

	return dataswitch.New(map[string]dataswitch.DataConnector{
		"memory":   memory,
		"frost":    frost,
		"geocoded": geocoded,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cat, err := buildCatalog()
	if err != nil {
		log.Fatalf("failed to build test catalog: %v", err)
	}

	switcher := buildSwitch(cfg)
	h := harness.New(cat)
	ioPool := pool.New(cfg.IOPoolSize)
	computePool := pool.New(cfg.ComputePoolSize)
	sched := scheduler.New(cat, switcher, h, ioPool, computePool)

	stats := statsjob.New(func() statsjob.Stats {
		snap := sched.Stats()
		return statsjob.Stats{
			RunsStarted:   snap.RunsStarted,
			RunsFinished:  snap.RunsFinished,
			TestsInflight: snap.TestsInflight,
		}
	}, cfg.StatsInterval)
	if err := stats.Start(); err != nil {
		log.Fatalf("failed to start stats job: %v", err)
	}
	defer stats.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "rove",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.RequestDeadline + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "rove"})
	})

	httpapi.New(switcher, sched, ioPool, cfg.RequestDeadline).RegisterRoutes(app)

	go func() {
		if err := app.Listen(cfg.ListenAddress); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
