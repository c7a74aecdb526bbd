package main

import (
	"context"
	"fmt"
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/api"
	"git.sr.ht/~jakintosh/rolepass/internal/app"
	"git.sr.ht/~jakintosh/rolepass/internal/config"
	"git.sr.ht/~jakintosh/rolepass/internal/database"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/internal/routing"
	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/internal/watch"
	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/roles"
	"git.sr.ht/~jakintosh/rolepass/pkg/tokens"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// buildAuthority assembles the authority handler. cleanup releases the
// database, the file watchers and the sweeper.
func buildAuthority(
	ctx context.Context,
	rdb redis.UniversalClient,
	m *metrics.Metrics,
) (
	handler http.Handler,
	cleanup func(),
	err error,
) {
	ac := cfg.Authority
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	key, err := tokens.LoadOrCreateSigningKey(ac.SigningKeyPath)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := tokens.NewIssuer(key, ac.Issuer)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewSQLiteStore(ctx, ac.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })

	resolver, closeRoles, err := openRoles(ac.Roles, db)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeRoles)

	catalog, err := service.NewClientCatalog(ac.ClientsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load clients: %w", err)
	}
	closers = append(closers, catalog.Close)
	if err := catalog.Watch(watch.DefaultDebounce); err != nil {
		return nil, nil, fmt.Errorf("failed to watch clients: %w", err)
	}

	pages, err := app.LoadPages(ac.TemplatesDir)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, pages.Close)
	if err := pages.Watch(watch.DefaultDebounce); err != nil {
		return nil, nil, err
	}

	interactions := config.OpenStore[service.Interaction](cfg.Store, rdb, "interactions")
	codes := config.OpenStore[service.AuthorizationCode](cfg.Store, rdb, "codes")
	sweeper := ephemeral.NewSweeper(
		map[string]ephemeral.Sweepable{
			"interactions": interactions,
			"codes":        codes,
		},
		ephemeral.WithSweepInterval(ac.SweepInterval),
		ephemeral.WithSweepObserver(m.Sweep),
	)
	sweeper.Start()
	closers = append(closers, sweeper.Stop)

	svc := service.New(service.Config{
		Identities:     db.IdentityStore(),
		Grants:         db.GrantStore(),
		Roles:          resolver,
		Catalog:        catalog,
		Issuer:         issuer,
		Interactions:   interactions,
		Codes:          codes,
		PasswordMode:   service.PasswordModeProduction,
		InteractionTTL: ac.InteractionTTL,
		CodeTTL:        ac.CodeTTL,
		TokenLifetime:  ac.TokenLifetime,
	})

	log.WithFields(log.Fields{
		"issuer":  ac.Issuer,
		"key_id":  issuer.KeyID(),
		"clients": len(catalog.IDs()),
		"roles":   ac.Roles.Source,
		"store":   cfg.Store.Backend,
	}).Info("authority ready")

	return routing.BuildRouter(
		app.New(svc, pages, m),
		api.New(svc, issuer, m),
		m,
	), closeAll, nil
}

// openRoles picks the role source: the database's own mappings, or a JSON
// file that is reloaded when it changes.
func openRoles(
	rc config.RolesConfig,
	db *database.SQLiteStore,
) (
	roles.Resolver,
	func(),
	error,
) {
	if rc.Source != "file" {
		return db.RoleResolver(), func() {}, nil
	}
	resolver, err := roles.NewFileResolver(rc.File, watch.DefaultDebounce)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load role file: %w", err)
	}
	return resolver, func() { _ = resolver.Close() }, nil
}
