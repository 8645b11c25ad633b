package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalogue connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := newCatalogueClient(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := client.Health(ctx); err != nil {
			printStatus("Catalogue", "unreachable (%v)", err)
		} else {
			printStatus("Catalogue", "reachable at %s", cfg.Catalogue.BaseURL)
			if page, err := client.Search(ctx, catalogue.SearchRequest{Query: "*", Limit: 1}); err == nil {
				printStatus("Records", "%d", page.Total)
			}
		}

		if cfg.Catalogue.Token != "" {
			printStatus("Credentials", "token configured")
		} else {
			printStatus("Credentials", "none (edits will prompt for login)")
		}
		printStatus("Page size", "%d (bounds %d–%d)", cfg.Search.PageSize, cfg.Search.MinPageSize, cfg.Search.MaxPageSize)
		printStatus("Storage backend", "%s", cfg.Storage.Backend)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}
