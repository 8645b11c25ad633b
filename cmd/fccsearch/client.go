package main

import (
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/config"
)

func newCatalogueClient(cfg config.Config) *catalogue.Client {
	var opts []catalogue.ClientOption
	if cfg.Catalogue.Token != "" {
		opts = append(opts, catalogue.WithToken(cfg.Catalogue.Token))
	}
	return catalogue.NewClient(cfg.Catalogue.BaseURL, opts...)
}
