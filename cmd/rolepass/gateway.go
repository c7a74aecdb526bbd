package main

import (
	"net/http"

	"git.sr.ht/~jakintosh/rolepass/internal/config"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/pkg/client"
	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func buildGateway(
	rdb redis.UniversalClient,
	m *metrics.Metrics,
) (
	http.Handler,
	func(),
	error,
) {
	gc := cfg.Gateway
	mode, err := client.ParseRedirectMode(gc.RedirectMode)
	if err != nil {
		return nil, nil, err
	}

	correlations := config.OpenStore[client.PendingAuthorization](cfg.Store, rdb, "correlations")
	sessions := config.OpenStore[client.TokenSet](cfg.Store, rdb, "sessions")

	gateway, err := client.New(client.Config{
		AuthorityURL:    gc.AuthorityURL,
		CallbackURL:     gc.CallbackURL,
		Applications:    cfg.GatewayApplications(),
		DefaultClientID: gc.DefaultClient,
		Mode:            mode,
		CorrelationTTL:  gc.CorrelationTTL,
		SessionTTL:      gc.SessionTTL,
		Correlations:    correlations,
		Sessions:        sessions,
		Exchanger:       client.NewAuthorityExchanger(gc.AuthorityURL, nil, gc.ExchangeTimeout),
		Observer:        m.Callback,
	})
	if err != nil {
		return nil, nil, err
	}

	sweeper := ephemeral.NewSweeper(
		map[string]ephemeral.Sweepable{
			"correlations": correlations,
			"sessions":     sessions,
		},
		ephemeral.WithSweepInterval(gc.SweepInterval),
		ephemeral.WithSweepObserver(m.Sweep),
	)
	sweeper.Start()

	log.WithFields(log.Fields{
		"authority":    gc.AuthorityURL,
		"callback":     gc.CallbackURL,
		"mode":         string(gateway.Mode()),
		"applications": len(gc.Applications),
	}).Info("gateway ready")

	r := gateway.Router()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	return r, sweeper.Stop, nil
}
