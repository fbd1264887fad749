package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cvemart/cvemart/datastore/postgres"
	"github.com/cvemart/cvemart/feed"
	"github.com/cvemart/cvemart/loader"
	"github.com/cvemart/cvemart/normalize"
	"github.com/cvemart/cvemart/reconcile"
)

// Config this struct is using the goconfig library for simple flag and env var
// parsing. See: https://github.com/crgimenes/goconfig
type Config struct {
	FeedPath            string `cfg:"FEED_PATH" cfgHelper:"Path to the feed export to load; '-' reads stdin"`
	ConnString          string `cfgDefault:"host=localhost port=5432 user=cvemart dbname=cvemart sslmode=disable" cfg:"CONNECTION_STRING" cfgHelper:"Connection string for the dimensional store"`
	AuthoritativeSource string `cfgDefault:"nvd@nist.gov" cfg:"AUTHORITATIVE_SOURCE" cfgHelper:"Scoring source preferred on reconciliation ties"`
	SkipExisting        bool   `cfgDefault:"false" cfg:"SKIP_EXISTING" cfgHelper:"Skip records already materialized instead of re-materializing"`
	RecordTimeout       string `cfgDefault:"30s" cfg:"RECORD_TIMEOUT" cfgHelper:"Per-record materialization timeout"`
	RetryLimit          int    `cfgDefault:"2" cfg:"RETRY_LIMIT" cfgHelper:"Extra attempts for records failing with retryable errors"`
	Workers             int    `cfgDefault:"4" cfg:"WORKERS" cfgHelper:"Concurrent normalization workers"`
	LogLevel            string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warn, error, fatal, panic"`
	Migrations          bool   `cfgDefault:"true" cfg:"MIGRATIONS" cfgHelper:"Run schema migrations before loading"`
}

func main() {
	ctx := context.Background()
	// parse our config
	conf := Config{}
	err := goconfig.Parse(&conf)
	if err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}
	if conf.FeedPath == "" {
		log.Fatal().Msg("FEED_PATH is required")
	}

	// setup pretty logging
	zerolog.SetGlobalLevel(logLevel(conf))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	ctx = log.Logger.WithContext(ctx)

	pool, err := postgres.Connect(ctx, conf.ConnString, "cvemartctl")
	if err != nil {
		log.Fatal().Msgf("failed to connect: %v", err)
	}
	defer pool.Close()
	store, err := postgres.InitPostgresMartStore(ctx, pool, conf.Migrations)
	if err != nil {
		log.Fatal().Msgf("failed to initialize store: %v", err)
	}

	in := os.Stdin
	if conf.FeedPath != "-" {
		in, err = os.Open(conf.FeedPath)
		if err != nil {
			log.Fatal().Msgf("failed to open feed: %v", err)
		}
		defer in.Close()
	}
	src, err := feed.New(in)
	if err != nil {
		log.Fatal().Msgf("failed to read feed: %v", err)
	}
	defer src.Close()

	engine := normalize.New(&reconcile.Policy{
		AuthoritativeSource: conf.AuthoritativeSource,
	})
	ctl := loader.New(store, engine, loader.Options{
		SkipExisting: conf.SkipExisting,
		Timeout:      recordTimeout(conf),
		RetryLimit:   conf.RetryLimit,
		Workers:      conf.Workers,
	})

	res, err := ctl.Load(ctx, src)
	if err != nil {
		log.Error().Msgf("load stopped early: %v", err)
	}
	if res == nil {
		os.Exit(1)
	}
	ev := log.Info()
	if res.Status != "SUCCESS" {
		ev = log.Warn()
	}
	ev.
		Str("ref", res.Ref.String()).
		Str("status", res.Status).
		Int("attempted", res.Attempted).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int("flagged", res.Flagged).
		Msg("load complete")
	for _, f := range res.Failures {
		log.Warn().
			Str("cve", f.ID).
			Str("kind", string(f.Kind)).
			Msg(f.Message)
	}
	if res.Status == "FAILED" {
		os.Exit(1)
	}
}

func logLevel(conf Config) zerolog.Level {
	level := strings.ToLower(conf.LogLevel)
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

func recordTimeout(conf Config) time.Duration {
	d, err := time.ParseDuration(conf.RecordTimeout)
	if err != nil {
		log.Warn().Msgf("bad RECORD_TIMEOUT %q, using 30s", conf.RecordTimeout)
		return 30 * time.Second
	}
	return d
}
