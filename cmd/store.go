package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicwatch/expense-audit/internal/config"
	"github.com/civicwatch/expense-audit/internal/sink"
	"github.com/civicwatch/expense-audit/internal/upstream"
)

// initStore opens the configured sink backend.
func initStore(ctx context.Context) (sink.Store, error) {
	switch cfg.Sink.Driver {
	case "postgres":
		st, err := sink.NewPostgres(ctx, cfg.Sink.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		return st, nil
	case "sqlite":
		st, err := sink.NewSQLite(cfg.Sink.SQLitePath)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown sink driver %q", cfg.Sink.Driver)
	}
}

// initUpstream builds the API client and extractor from config.
func initUpstream(c config.UpstreamConfig) (*upstream.API, *upstream.Extractor) {
	client := upstream.NewClient(c)
	extractor := upstream.NewExtractor(client, upstream.ExtractorOptions{
		PageSize:   c.PageSize,
		MaxPages:   c.MaxPages,
		BatchWidth: c.Concurrency,
		BatchPause: time.Duration(c.BatchPauseMS) * time.Millisecond,
	})
	api := upstream.NewAPI(extractor, time.Duration(c.DetailTTLHours)*time.Hour)
	return api, extractor
}
