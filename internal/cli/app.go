package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/cache"
	"github.com/roach88/atlas/internal/config"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/resolver"
	"github.com/roach88/atlas/internal/source"
	"github.com/roach88/atlas/internal/ssb"
	"github.com/roach88/atlas/internal/store"
	"github.com/roach88/atlas/internal/taxonomy"
)

// app is the wiring shared by commands that read or write a ledger.
type app struct {
	cfg    config.Config
	tax    *taxonomy.Taxonomy
	store  *store.Store
	ledger *ledger.Ledger
	proj   *projector.Projector
	cache  cache.Cache // cache.Nop when no Redis is configured
}

// openApp opens the configured database and builds the ledger and
// projector of the configured dimension.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	tax, err := loadTaxonomy(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load taxonomy", err)
	}
	dim := cfg.DimensionID()
	if _, err := tax.Dimension(dim); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	l, err := ledger.New(ctx, st, dim,
		ledger.WithCodeValidator(tax),
		ledger.WithEventChecker(replayCheck),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	a := &app{cfg: cfg, tax: tax, store: st, ledger: l}
	a.cache = cache.Open(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	a.proj = projector.New(l, projector.WithCache(a.cache))

	slog.Debug("opened ledger",
		"database", cfg.Database,
		"dimension", dim.String(),
		"cache", cache.Enabled(a.cache),
	)
	return a, nil
}

// replayCheck vets appends by replaying the ledger they go into.
func replayCheck(l *ledger.Ledger) ledger.EventChecker {
	return projector.New(l)
}

// Close releases the database and the cache connection.
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.store.Close())
}

func loadTaxonomy(cfg config.Config) (*taxonomy.Taxonomy, error) {
	if cfg.Taxonomy == "" {
		return taxonomy.Norway()
	}
	return taxonomy.LoadFile(cfg.Taxonomy)
}

// resolver replays the whole ledger and returns a resolver over it.
func (a *app) resolver(ctx context.Context) (*resolver.Resolver, error) {
	tl, err := a.proj.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	return a.resolverOver(tl), nil
}

func (a *app) resolverOver(tl *projector.Timeline) *resolver.Resolver {
	return resolver.New(tl, resolver.WithCodeValidator(a.tax), resolver.WithNow(time.Now))
}

// retryPolicy is the configured backoff for remote calls.
func (a *app) retryPolicy() objstore.RetryPolicy {
	return objstore.RetryPolicy{
		Attempts: a.cfg.Retry.Attempts,
		Base:     a.cfg.Retry.Base,
		Max:      a.cfg.Retry.Max,
	}
}

// objects opens the configured object store behind the retrying decorator.
func (a *app) objects(ctx context.Context) (objstore.Store, error) {
	var (
		s   objstore.Store
		err error
	)
	switch a.cfg.Objects.Backend {
	case config.BackendS3:
		s3 := a.cfg.Objects.S3
		s, err = objstore.NewS3(ctx, objstore.S3Config{
			Bucket:   s3.Bucket,
			Region:   s3.Region,
			Profile:  s3.Profile,
			Endpoint: s3.Endpoint,
			Prefix:   s3.Prefix,
		})
	default:
		s, err = objstore.NewFS(a.cfg.Objects.Dir)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open object store", err)
	}
	return objstore.NewRetrying(s, a.retryPolicy()), nil
}

// ssbAdapter is the Statistics Norway adapter for the configured taxonomy.
func (a *app) ssbAdapter() *source.Adapter {
	client := ssb.New(a.tax,
		ssb.WithBaseURL(a.cfg.Klass.BaseURL),
		ssb.WithTablesURL(a.cfg.Klass.TablesURL),
		ssb.WithHTTPClient(&http.Client{Timeout: a.cfg.Klass.Timeout}),
		ssb.WithRetryPolicy(a.retryPolicy()),
	)
	return &source.Adapter{
		Name:     ssb.SourceName,
		Taxonomy: a.tax,
		Mappings: client,
		Changes:  client,
		Results:  client,
	}
}

// parseAsOf parses an --as-of flag. Empty means today.
func parseAsOf(s string) (ir.Date, error) {
	if s == "" {
		return ir.DateOf(time.Now()), nil
	}
	d, err := ir.ParseDate(s)
	if err != nil {
		return ir.Date{}, ir.NewValidationError("as-of", s, err.Error())
	}
	return d, nil
}

// parseLevel validates a --level flag.
func parseLevel(n int) (ir.Level, error) {
	level := ir.Level(n)
	if !level.Valid() {
		return 0, ir.NewValidationError("level", fmt.Sprint(n), "unknown level")
	}
	return level, nil
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
