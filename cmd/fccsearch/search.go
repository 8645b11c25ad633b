package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/facets"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/query"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [free text...]",
	Short: "Search the dataset catalogue",
	Long: `Search the dataset catalogue.

Facet selections combine with free text; dependent facets narrow as their
ancestors are chosen, so --facet pairs are applied in hierarchy order.

Examples:
  fccsearch search higgs
  fccsearch search --facet stage=sim --facet campaign=winter2026 zh
  fccsearch search --sort name --order asc --page 2 --page-size 50
  fccsearch search --mode infinite --pages 3 higgs
  fccsearch search --permalink higgs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		facetFlags, _ := cmd.Flags().GetStringArray("facet")
		sortField, _ := cmd.Flags().GetString("sort")
		sortOrder, _ := cmd.Flags().GetString("order")
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		pages, _ := cmd.Flags().GetInt("pages")
		mode, _ := cmd.Flags().GetString("mode")
		asJSON, _ := cmd.Flags().GetBool("json")
		showPermalink, _ := cmd.Flags().GetBool("permalink")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newCatalogueClient(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		graph := facets.New(client, facets.WithSpinnerDelay(cfg.Search.SpinnerDelay))
		defer graph.Close()
		for _, pair := range facetFlags {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --facet %q, expected type=value", pair)
			}
			if err := graph.Select(ctx, name, value); err != nil {
				return fmt.Errorf("selecting facet: %w", err)
			}
		}

		engineMode := search.ModePaged
		switch mode {
		case "", "paged":
		case "infinite":
			engineMode = search.ModeInfinite
		default:
			return fmt.Errorf("invalid --mode %q, expected paged or infinite", mode)
		}

		sort := query.DefaultSort
		if sortField != "" {
			sort.Field = sortField
		}
		if sortOrder != "" {
			sort.Order = sortOrder
		}

		eng := search.NewEngine(client, search.Config{
			PageSize:    pageSize,
			MinPageSize: cfg.Search.MinPageSize,
			MaxPageSize: cfg.Search.MaxPageSize,
			Debounce:    cfg.Search.Debounce,
			Mode:        engineMode,
			Sort:        sort,
		})
		defer eng.Close()

		eng.SeedQueryState(query.State{Text: strings.Join(args, " "), Sort: sort})
		eng.SeedSelections(graph.Selections())

		if page > 1 && engineMode == search.ModePaged {
			err = eng.GoToPage(ctx, page)
		} else {
			err = eng.ExecuteSearch(ctx)
		}
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		for i := 1; i < pages; i++ {
			if err := eng.LoadMore(ctx); err != nil {
				return fmt.Errorf("loading more results: %w", err)
			}
		}

		snap := eng.Snapshot()
		if snap.Status == search.StatusError {
			printError("%s", snap.Err)
			if !snap.Available {
				return fmt.Errorf("catalogue unavailable")
			}
			return fmt.Errorf("search failed")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(catalogue.SearchPage{Records: snap.Records, Total: snap.Total}); err != nil {
				return err
			}
		} else {
			renderResults(snap, graph)
		}

		if showPermalink {
			base, err := url.Parse(cfg.Catalogue.BaseURL)
			if err != nil {
				return fmt.Errorf("parsing catalogue base URL: %w", err)
			}
			fmt.Println(query.Permalink(base, eng.QueryState()))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringArray("facet", nil, "facet selection as type=value (repeatable)")
	searchCmd.Flags().String("sort", "", "sort field: created_at, name, last_edited, id")
	searchCmd.Flags().String("order", "", "sort order: asc or desc")
	searchCmd.Flags().Int("page", 1, "page to fetch (paged mode)")
	searchCmd.Flags().Int("page-size", 0, "results per page (clamped to deployment bounds)")
	searchCmd.Flags().Int("pages", 1, "number of pages to accumulate (infinite mode)")
	searchCmd.Flags().String("mode", "paged", "pagination mode: paged or infinite")
	searchCmd.Flags().Bool("json", false, "emit results as JSON")
	searchCmd.Flags().Bool("permalink", false, "print a shareable permalink for this query")
}

func renderResults(snap search.Snapshot, graph *facets.Graph) {
	for _, sel := range graph.Selections() {
		printStatus("Facet", "%s = %s", sel.Type, sel.Value)
	}

	if len(snap.Records) == 0 {
		printWarning("No datasets matched")
		return
	}

	for _, rec := range snap.Records {
		labels := make([]string, 0, len(rec.FacetLabels))
		for _, ft := range graph.Types() {
			if v, ok := rec.FacetLabels[ft.Name]; ok {
				labels = append(labels, v)
			}
		}
		line := fmt.Sprintf("%6d  %s", rec.ID, bold(rec.Name))
		if len(labels) > 0 {
			line += "  [" + strings.Join(labels, "/") + "]"
		}
		line += "  " + rec.CreatedAt.Format("2006-01-02")
		if rec.LastEdited != nil {
			line += accent("  edited " + rec.LastEdited.Format(time.RFC3339))
		}
		fmt.Println(line)
	}

	footer := fmt.Sprintf("Showing %d–%d of %d", snap.RangeStart, snap.RangeEnd, snap.Total)
	if snap.Mode == search.ModePaged {
		footer += fmt.Sprintf(" (page %d/%d)", snap.Page, snap.TotalPages)
	} else if snap.HasMore {
		footer += " (more available)"
	}
	fmt.Println(bold(footer))
}
