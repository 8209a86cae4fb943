// Package cmd implements the rse command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"grimm.is/rse/internal/config"
	"grimm.is/rse/internal/events"
	"grimm.is/rse/internal/filters"
	"grimm.is/rse/internal/logging"
	"grimm.is/rse/internal/metrics"
	"grimm.is/rse/internal/profile"
	"grimm.is/rse/internal/store"
)

// App is one opened instance: configuration, restored profiles and the
// persistence backend behind them.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Metrics  *metrics.Registry
	Events   *events.Hub
	Registry *profile.Registry
	// Store is set for the sqlite backend only.
	Store *store.SQLWriter

	out    io.Writer
	closer func() error
}

// backend is the persistence collaborator of both Writer and Loader roles.
type backend interface {
	profile.Writer
	profile.Loader
}

// Open restores the profiles of cfg and creates the configured ones that
// do not exist yet.
func Open(cfg *config.Config, out io.Writer) (*App, error) {
	logCfg := cfg.LoggingConfig()
	logCfg.Output = os.Stderr
	log := logging.New(logCfg)

	app := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Events:  events.NewHub(nil),
		out:     out,
		closer:  func() error { return nil },
	}

	var be backend
	switch cfg.Store.Backend {
	case config.BackendHCL:
		be = store.NewHCLWriter(cfg.Store.Path, store.DefaultNames, log)
	default:
		opts := store.DefaultOptions(cfg.Store.Path)
		opts.WALMode = cfg.Store.WAL == nil || *cfg.Store.WAL
		st, err := store.NewSQLiteStore(opts)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		app.closer = st.Close
		app.Store = store.NewSQLWriter(st, store.DefaultNames, log)
		be = app.Store
	}

	app.Registry = profile.NewRegistry(
		profile.WithLogger(log),
		profile.WithMetrics(app.Metrics),
		profile.WithEvents(app.Events),
		profile.WithWriter(be),
		profile.WithPolicy(cfg.Policy()),
	)
	if err := app.Registry.Restore(be); err != nil {
		app.Close()
		return nil, err
	}

	names := cfg.Profiles
	if len(names) == 0 {
		names = []string{app.defaultProfile()}
	}
	for _, name := range names {
		if _, ok := app.Registry.Get(name); ok {
			continue
		}
		p, err := app.Registry.CreateProfile(name)
		if err != nil {
			app.Close()
			return nil, err
		}
		p.AddManager(profile.DefaultConfigID)
		if err := p.Commit(); err != nil {
			app.Close()
			return nil, err
		}
		log.Info("created profile", "profile", name)
	}
	return app, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.closer()
}

var (
	errUsage         = errors.New("usage")
	errNoSuchProfile = errors.New("no such profile")
	errNoSuchPool    = errors.New("no such pool")
	errNoSuchFilter  = errors.New("no such filter")
	errNoHistory     = errors.New("command needs the sqlite backend")
)

// defaultProfile is used when -profile is not given.
func (a *App) defaultProfile() string {
	if len(a.Config.Profiles) > 0 {
		return a.Config.Profiles[0]
	}
	return "default"
}

func (a *App) profile(name string) (*profile.Profile, error) {
	if name == "" {
		name = a.defaultProfile()
	}
	p, ok := a.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoSuchProfile, name)
	}
	return p, nil
}

// manager returns the pool manager of configID, creating it only when
// create is set.
func (a *App) manager(profileName, configID string, create bool) (*filters.PoolManager, error) {
	p, err := a.profile(profileName)
	if err != nil {
		return nil, err
	}
	if create {
		return p.AddManager(configID), nil
	}
	m := p.Manager(configID)
	if m == nil {
		return nil, fmt.Errorf("%w: %s has no configuration %q", errNoSuchPool, p.Name(), configID)
	}
	return m, nil
}

func (a *App) pool(m *filters.PoolManager, name string) (*filters.Pool, error) {
	pool := m.GetPool(name)
	if pool == nil {
		return nil, fmt.Errorf("%w: %s", errNoSuchPool, name)
	}
	return pool, nil
}

func (a *App) filter(pool *filters.Pool, path []string) (*filters.Filter, error) {
	if len(path) == 0 {
		return nil, errUsage
	}
	f := pool.GetFilter(path[0])
	for _, name := range path[1:] {
		if f == nil {
			break
		}
		f = f.GetFilter(name)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s/%s", errNoSuchFilter, pool.Name(), strings.Join(path, "/"))
	}
	return f, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
