// Command client is a demo application protected by rolepass. It signs users
// in through the gateway, keeps the resulting ID token in a cookie and serves
// an API that only admits bearers holding a role for it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/config"
	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "client",
		Short: "Demo application protected by rolepass",
		Long: `client serves a small application that signs users in through the
rolepass gateway. /api/me admits any valid token for resource.audience and
/api/admin additionally requires the admin role.`,
		RunE:         serve,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a yaml, toml or json config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Log.ApplyLogging()
	rc := cfg.Resource
	ctx := cmd.Context()

	m := metrics.New()
	rdb := cfg.Store.RedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	policy, err := resource.ParseReplayPolicy(rc.ReplayPolicy)
	if err != nil {
		return err
	}
	keys, err := resource.NewJWKSKeySource(
		ctx,
		rc.Issuer,
		nil,
		rc.KeyFetchTimeout,
		resource.WithMinRefreshInterval(rc.KeyRefreshMin),
	)
	if err != nil {
		return fmt.Errorf("is the authority at %s running? %w", rc.Issuer, err)
	}
	defer func() { _ = keys.Close(context.Background()) }()

	replay := config.OpenStore[string](cfg.Store, rdb, "replay")
	sweeper := ephemeral.NewSweeper(
		map[string]ephemeral.Sweepable{"replay": replay},
		ephemeral.WithSweepInterval(rc.SweepInterval),
		ephemeral.WithSweepObserver(m.Sweep),
	)
	sweeper.Start()
	defer sweeper.Stop()

	validator, err := resource.NewValidator(resource.Config{
		Issuer:   rc.Issuer,
		Audience: rc.Audience,
		Keys:     keys,
		Replay:   resource.NewReplayGuard(replay, policy),
		Outcome:  m.Validation,
	})
	if err != nil {
		return err
	}

	d := newDemo(rc.GatewayURL, rc.Audience, &http.Client{Timeout: 10 * time.Second})
	server := &http.Server{
		Addr:              rc.Listen,
		Handler:           buildRouter(d, validator, m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"addr":     rc.Listen,
		"issuer":   rc.Issuer,
		"audience": rc.Audience,
		"jwks":     keys.JWKSURL(),
		"replay":   policy.String(),
	}).Info("client listening")

	egrp, ctx := errgroup.WithContext(ctx)
	egrp.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return egrp.Wait()
}

func buildRouter(
	d *demo,
	validator *resource.Validator,
	m *metrics.Metrics,
) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", d.home).Methods(http.MethodGet)
	r.HandleFunc("/welcome", d.welcome).Methods(http.MethodGet)
	r.HandleFunc("/logout", d.logout).Methods(http.MethodPost)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/").Subrouter()
	api.Use(bearerFromCookie, validator.Middleware)
	api.HandleFunc("/me", d.me).Methods(http.MethodGet)
	api.Handle("/admin", resource.RequireRole("admin")(http.HandlerFunc(d.admin))).Methods(http.MethodGet)
	return r
}
