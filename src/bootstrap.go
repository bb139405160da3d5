package main

import (
	"context"
	"fmt"

	"syndrodm/src/auth"
	"syndrodm/src/driver"
	"syndrodm/src/engine"
	"syndrodm/src/hooks"
	"syndrodm/src/settings"

	"go.uber.org/zap"
)

// loadConfig reads the config file named by the arguments (defaults only
// when none is given) and applies the command line overrides.
func loadConfig(args *settings.Arguments) (*settings.Config, error) {
	var cfg *settings.Config
	if args.ConfigFile != "" {
		c, err := settings.LoadConfig(args.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = &settings.Config{}
		cfg.ApplyDefaults()
	}
	cfg.ApplyArguments(args)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDriver(ctx context.Context, cfg settings.DriverConfig, logger *zap.SugaredLogger) (driver.Driver, error) {
	switch cfg.Kind {
	case settings.DriverMemory:
		return driver.NewMemoryDriver(logger), nil
	case settings.DriverFile:
		return driver.NewFileDriver(cfg.DataDir, logger)
	case settings.DriverMongo:
		return driver.NewMongoDriver(ctx, driver.MongoConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			MaxRetries:     cfg.Mongo.MaxRetries,
		}, logger)
	default:
		return nil, fmt.Errorf("invalid driver kind: %s", cfg.Kind)
	}
}

// openEngine declares the configured collections and connects the driver.
func openEngine(ctx context.Context, cfg *settings.Config, logger *zap.SugaredLogger) (*engine.Engine, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	drv, err := openDriver(ctx, cfg.Driver, logger)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{engine.WithPopulateDepth(cfg.Populate.Depth)}
	if cfg.Populate.DropUnresolved {
		opts = append(opts, engine.WithDropUnresolved())
	}
	pipeline := hooks.NewPipeline(logger, hooks.WithObserver(func(collection, event, state string) {
		logger.Debugw("hook pipeline", "collection", collection, "event", event, "state", state)
	}))
	logger.Infow("engine ready", "driver", cfg.Driver.Kind, "collections", registry.Names())
	return engine.New(registry, drv, pipeline, logger, opts...), nil
}

// openUsers builds the credential store for the REST binding.
func openUsers(cfg settings.AuthConfig, logger *zap.SugaredLogger) (*auth.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var opts []auth.StoreOption
	if cfg.UsersFile != "" {
		opts = append(opts, auth.WithFile(cfg.UsersFile, cfg.Key))
	}
	store, err := auth.NewStore(logger, opts...)
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.Users {
		if _, err := store.GetUser(u.Username); err == nil {
			continue
		}
		if err := store.AddUser(auth.NewUser{Username: u.Username, Password: u.Password}); err != nil {
			return nil, fmt.Errorf("failed to add user %s: %w", u.Username, err)
		}
	}
	if !store.Accounts() {
		return nil, fmt.Errorf("authentication enabled but no users configured")
	}
	return store, nil
}
