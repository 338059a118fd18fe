package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rolegate/config"
	"github.com/upb/rolegate/middleware"
	"github.com/upb/rolegate/observability"
	"github.com/upb/rolegate/policy"
	"github.com/upb/rolegate/repositories/postgres"
	"github.com/upb/rolegate/roles"
	"github.com/upb/rolegate/services/audit"
	"github.com/upb/rolegate/signing"
	"github.com/upb/rolegate/verifier"
)

// ErrNoSigningKeys is returned when the initial key load yields nothing usable
var ErrNoSigningKeys = errors.New("no signing keys loaded")

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	DB      *postgres.DB // nil when no audit database is configured
	Metrics *observability.Metrics

	// Signing material
	Keys      *signing.Store
	Refresher *signing.Refresher

	// Authorization core
	Verifier *verifier.Verifier
	Mapper   *roles.Mapper
	Policies *policy.Table
	Gate     *middleware.Gate

	// Audit
	Decisions audit.Repository
	Audit     *audit.Service // nil when auditing is disabled
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := deps.initSigning(ctx, cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}

	if err := deps.initVerifier(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize verifier: %w", err)
	}

	if err := deps.initPolicies(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize policies: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	deps.initGate()

	logger.Info("all dependencies initialized successfully",
		zap.Int("protected_routes", deps.Policies.Len()),
		zap.Bool("audit_database", deps.DB != nil))
	return deps, nil
}

// initDatabase opens the audit database and ensures its schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(ctx, *cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	if cfg.Audit.InitSchema {
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return err
		}
	}
	d.DB = db
	return nil
}

// initSigning builds the key sources and the refresher. Keys are not
// fetched here; see LoadSigningKeys.
func (d *Dependencies) initSigning(ctx context.Context, cfg *config.Config) error {
	client := &http.Client{Timeout: cfg.Auth.FetchTimeout}

	var sources []signing.Fetcher
	if cfg.Auth.JWKSURL != "" {
		sources = append(sources, signing.NewHTTPFetcher(cfg.Auth.JWKSURL, client))
	} else if cfg.Auth.DiscoveryEnabled {
		for _, issuer := range cfg.Auth.Issuers {
			discoverCtx, cancel := context.WithTimeout(ctx, cfg.Auth.FetchTimeout)
			jwksURL, err := signing.DiscoverJWKSURL(discoverCtx, issuer, client)
			cancel()
			if err != nil {
				return err
			}
			d.Logger.Info("discovered jwks endpoint",
				zap.String("issuer", issuer),
				zap.String("jwks_uri", jwksURL))
			sources = append(sources, signing.ForIssuer(issuer, signing.NewHTTPFetcher(jwksURL, client)))
		}
	}
	if cfg.Auth.JWKSFile != "" {
		sources = append(sources, signing.NewFileFetcher(cfg.Auth.JWKSFile))
	}
	if cfg.Auth.HMACSecret != "" {
		static, err := signing.StaticKeys(signing.Key{
			ID:       cfg.Auth.HMACKeyID,
			Material: []byte(cfg.Auth.HMACSecret),
		})
		if err != nil {
			return err
		}
		sources = append(sources, static)
	}
	if len(sources) == 0 {
		return errors.New("no signing key source configured")
	}

	var fetcher signing.Fetcher = signing.MultiFetcher(sources)
	if len(sources) == 1 {
		fetcher = sources[0]
	}

	d.Keys = signing.NewStore(nil)
	d.Refresher = signing.NewRefresher(d.Keys, fetcher, signing.RefresherConfig{
		Interval:     cfg.Auth.RefreshInterval,
		FetchTimeout: cfg.Auth.FetchTimeout,
		AlertAfter:   cfg.Auth.AlertAfter,
	}, signing.NewLogAlerter(d.Logger), d.Metrics, d.Logger)
	return nil
}

// initVerifier builds the token verifier. An unknown kid nudges the
// refresher so rotated keys are picked up before the next tick.
func (d *Dependencies) initVerifier(cfg *config.Config) error {
	v, err := verifier.New(verifier.Config{
		Issuers:           cfg.Auth.Issuers,
		Audience:          cfg.Auth.Audience,
		AllowedAlgorithms: cfg.Auth.AllowedAlgorithms,
		ClockSkew:         cfg.Auth.ClockSkew,
	}, d.Keys,
		verifier.WithMetrics(d.Metrics),
		verifier.WithUnknownKeyHook(func() { d.Refresher.Nudge() }),
	)
	if err != nil {
		return err
	}
	d.Verifier = v

	paths := cfg.Auth.RoleClaims
	if len(paths) == 0 {
		paths = roles.DefaultClaimPaths(cfg.Auth.ClientID)
	}
	known := make([]roles.Role, 0, len(cfg.Auth.KnownRoles))
	for _, r := range cfg.Auth.KnownRoles {
		known = append(known, roles.Role(strings.ToLower(strings.TrimSpace(r))))
	}
	d.Mapper = roles.NewMapper(roles.MapperConfig{
		ClaimPaths: paths,
		Prefix:     cfg.Auth.RolePrefix,
		KeepPrefix: cfg.Auth.RolePrefix == "",
		Known:      known,
	})
	return nil
}

// initPolicies loads the route table from AUTH_POLICY_FILE or falls back
// to the built-in table
func (d *Dependencies) initPolicies(cfg *config.Config) error {
	if cfg.Auth.PolicyFile == "" {
		d.Policies = policy.DefaultTable()
		return nil
	}
	table, err := policy.LoadTable(cfg.Auth.PolicyFile)
	if err != nil {
		return err
	}
	d.Logger.Info("loaded policy table",
		zap.String("path", cfg.Auth.PolicyFile),
		zap.Int("routes", table.Len()))
	d.Policies = table
	return nil
}

// initAudit picks the decision repository and starts the audit workers
func (d *Dependencies) initAudit(cfg *config.Config) error {
	if d.DB != nil {
		d.Decisions = postgres.NewDecisionRepository(d.DB, d.Logger)
	} else {
		d.Decisions = audit.NewLogRepository(d.Logger, cfg.Audit.BufferSize)
	}

	if !cfg.Audit.Enabled {
		d.Logger.Warn("decision auditing disabled")
		return nil
	}

	svc := audit.NewService(d.Decisions, d.Logger, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc
	return nil
}

func (d *Dependencies) initGate() {
	opts := []middleware.GateOption{middleware.WithGateMetrics(d.Metrics)}
	if d.Audit != nil {
		opts = append(opts, middleware.WithDecisionRecorder(d.Audit))
	}
	d.Gate = middleware.NewGate(d.Verifier, d.Mapper, d.Logger, opts...)
}

// LoadSigningKeys performs the initial key load. The service must not
// serve traffic without keys.
func (d *Dependencies) LoadSigningKeys(ctx context.Context) error {
	if err := d.Refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSigningKeys, err)
	}
	if d.Keys.Current().Len() == 0 {
		return ErrNoSigningKeys
	}
	d.Logger.Info("signing keys loaded", zap.Strings("kids", d.Keys.Current().IDs()))
	return nil
}

// Close releases resources, draining pending audit decisions first
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error

	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}

	if err := d.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeDB() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}
