package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/config"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/metrics"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/server"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store/postgres"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference catalogue server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		seedFlag, _ := cmd.Flags().GetBool("seed")
		return runServer(seedFlag)
	},
}

func init() {
	serveCmd.Flags().Bool("seed", false, "load sample records into an empty store")
}

func runServer(seed bool) error {
	fmt.Fprintf(os.Stderr, "fccsearch version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	if seed {
		n, err := seedStore(ctx, st)
		if err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
		if n > 0 {
			printSuccess("Seeded %d sample records", n)
		}
	}

	m := metrics.New()
	broker := broadcast.NewBroker()
	handler := server.New(server.Deps{
		Store:   st,
		Broker:  broker,
		Token:   cfg.Server.Token,
		Metrics: m,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fccsearch catalogue listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		st, err := sqlite.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// seedStore loads a small sample dataset so a fresh deployment has something
// to search. It skips stores that already hold records.
func seedStore(ctx context.Context, st store.Store) (int, error) {
	inserter, ok := st.(store.Inserter)
	if !ok {
		return 0, fmt.Errorf("store backend does not support seeding")
	}

	if _, total, err := st.Search(ctx, query.Parsed{MatchAll: true}, query.DefaultSort, 1, 0); err != nil {
		return 0, err
	} else if total > 0 {
		return 0, nil
	}

	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	samples := []catalogue.Record{
		{Name: "zh_higgs_240gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "idea"}, Metadata: map[string]any{"energy_gev": 240, "events": 10000000}},
		{Name: "zh_higgs_365gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "cld"}, Metadata: map[string]any{"energy_gev": 365, "events": 5000000}},
		{Name: "ww_threshold_161gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "winter2026", "detector": "idea"}, Metadata: map[string]any{"energy_gev": 161, "events": 20000000}},
		{Name: "zpole_inclusive_91gev", FacetLabels: map[string]string{"stage": "sim", "campaign": "spring2026", "detector": "idea"}, Metadata: map[string]any{"energy_gev": 91, "events": 100000000}},
		{Name: "zpole_bb_91gev", FacetLabels: map[string]string{"stage": "rec", "campaign": "spring2026", "detector": "cld"}, Metadata: map[string]any{"energy_gev": 91, "events": 50000000}},
		{Name: "tt_pair_350gev", FacetLabels: map[string]string{"stage": "rec", "campaign": "winter2026", "detector": "idea"}, Metadata: map[string]any{"energy_gev": 350, "events": 2000000}},
	}
	for i, rec := range samples {
		rec.CreatedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		if _, err := inserter.Insert(ctx, rec); err != nil {
			return i, err
		}
	}
	return len(samples), nil
}
