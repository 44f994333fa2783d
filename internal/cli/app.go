package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/paramstore"
	"github.com/soyeahso/smsforms/internal/plugin"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/soyeahso/smsforms/internal/store/dynamo"
)

// app holds what most commands need: the loaded config and an open store.
type app struct {
	cfg     config.Config
	store   store.Store
	log     *logging.Logger
	closers []io.Closer
}

// loadConfig reads the config file, resolves ssm: references and checks it.
func loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if config.HasSecretRefs(&cfg) {
		awsCfg, err := loadAWS(ctx, cfg.AWS)
		if err != nil {
			return cfg, err
		}
		ps, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return cfg, err
		}
		if err := config.ResolveSecrets(ctx, &cfg, ps); err != nil {
			return cfg, err
		}
	}

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

func loadAWS(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and opens the configured store, seeding it with
// the triggers listed in the config.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	switch cfg.Session.Store {
	case "memory":
		a.store = store.NewMemoryStore()
		log.Info().Msg("using in-memory session store")
	case "dynamodb":
		awsCfg, err := loadAWS(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		ds, err := dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table, log)
		if err != nil {
			return nil, err
		}
		a.store = ds
		log.Info().Str("table", cfg.DynamoDB.Table).Msg("using DynamoDB session store")
	default:
		dbPath := cfg.Session.Database
		if dbPath == "" {
			dbPath = paths.Database
		}
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.closers = append(a.closers, db)
		a.store = store.NewSQLiteStore(db)
		log.Info().Str("path", dbPath).Msg("using SQLite session store")
	}

	if err := seedTriggers(ctx, a.store, cfg.Triggers); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// seedTriggers saves the triggers listed in the config, replacing stored
// triggers with the same keyword.
func seedTriggers(ctx context.Context, ts store.TriggerStore, entries []config.TriggerEntry) error {
	for _, e := range entries {
		t := e.Trigger()
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trigger %q: %w", e.Keyword, err)
		}
		if err := ts.SaveTrigger(ctx, t); err != nil {
			return fmt.Errorf("seeding trigger %q: %w", e.Keyword, err)
		}
	}
	if len(entries) > 0 {
		log.Debug().Int("count", len(entries)).Msg("seeded triggers from config")
	}
	return nil
}

// newEngine returns the HTTP form engine client.
func newEngine(cfg config.FormPlayerConfig) (formplayer.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("formPlayer.url is not configured")
	}
	return formplayer.NewHTTPClient(cfg.URL, formplayer.HTTPOptions{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries: cfg.Retries,
	}, log), nil
}

func dispatcherOptions(cfg config.Config) conversation.Options {
	return conversation.Options{
		InfoAck:           cfg.FormPlayer.InfoAck,
		MaxSteps:          cfg.FormPlayer.MaxSteps,
		Language:          cfg.FormPlayer.Language,
		RepromptOnInvalid: cfg.Session.RepromptOnInvalid,
		Replies: conversation.Replies{
			ServerError: cfg.Replies.ServerError,
			Completed:   cfg.Replies.Completed,
			Incomplete:  cfg.Replies.Incomplete,
		},
	}
}

// startPlugins creates the hook bus and attaches the configured command
// hooks and webhooks to it. Callers close the returned registry.
func startPlugins(ctx context.Context, cfg config.Config, l *logging.Logger) (*hooks.Manager, *plugin.Registry, error) {
	hm := hooks.NewManager(l)
	reg := plugin.NewRegistry(hm, l)
	if err := reg.Register(plugin.NewCommandHooks(cfg.Hooks)); err != nil {
		return nil, nil, err
	}
	if len(cfg.Webhooks) > 0 {
		if err := reg.Register(plugin.NewWebhooks(cfg.Webhooks, nil)); err != nil {
			return nil, nil, err
		}
	}
	if err := reg.InitAll(ctx); err != nil {
		return nil, nil, fmt.Errorf("initializing plugins: %w", err)
	}
	for _, info := range reg.Info() {
		l.Debug().Str("id", info.ID).Str("name", info.Name).Msg("plugin started")
	}
	return hm, reg, nil
}
