package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leadflow/lead-engine/config"
	"github.com/leadflow/lead-engine/factory"
	"github.com/leadflow/lead-engine/leads"
	"github.com/leadflow/lead-engine/logging"
	"github.com/leadflow/lead-engine/notify"
	"github.com/leadflow/lead-engine/store/sqlite"
)

// app is the wired dependency graph shared by every command.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  *sqlite.Store
	engine *leads.Engine
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{Env: cfg.Env, Level: cfg.LogLevel})

	var catalog *factory.Catalog
	if cfg.CatalogPath != "" {
		catalog, err = factory.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("credit catalog: %w", err)
		}
		log.Info().Int("packages", len(catalog.Packages())).Msg("credit catalog loaded")
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}

	engine := leads.NewEngine(store, newNotifier(cfg, log),
		leads.WithSettings(cfg.Settings()),
		leads.WithLogger(log.With().Str("component", "engine").Logger()),
		leads.WithCatalog(catalog),
	)
	return &app{cfg: cfg, log: log, store: store, engine: engine}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newNotifier routes email to SMTP (or the log when SMTP is not configured)
// and SMS to the log, behind one rate limiter.
func newNotifier(cfg config.Config, log zerolog.Logger) notify.Dispatcher {
	nlog := log.With().Str("component", "notify").Logger()

	var email notify.Dispatcher = notify.LogDispatcher{Log: nlog, Channel: "email"}
	if cfg.SMTP.Enabled() {
		email = notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromName:  cfg.SMTP.FromName,
			FromEmail: cfg.SMTP.FromEmail,
		})
		nlog.Info().Str("host", cfg.SMTP.Host).Msg("smtp email enabled")
	}

	router := notify.Router{
		Email: email,
		SMS:   notify.LogDispatcher{Log: nlog, Channel: "sms"},
	}
	return notify.NewRateLimited(router, cfg.Notify.RatePerSecond, cfg.Notify.Burst)
}
