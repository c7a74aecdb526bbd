package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

var (
	authorityCmd = &cobra.Command{
		Use:   "authority",
		Short: "Run the authority: login pages, token endpoint and key discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, false)
		},
	}

	gatewayCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway that signs users in to registered applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), false, true)
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the authority and the gateway in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), true, true)
		},
	}
)

// run starts the requested components and blocks until ctx is cancelled or
// one of the listeners fails.
func run(
	ctx context.Context,
	withAuthority bool,
	withGateway bool,
) error {
	m := metrics.New()
	rdb := cfg.Store.RedisClient()
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis at %s is unreachable: %w", cfg.Store.Redis.Addr, err)
		}
	}

	egrp, ctx := errgroup.WithContext(ctx)
	if withAuthority {
		handler, cleanup, err := buildAuthority(ctx, rdb, m)
		if err != nil {
			return err
		}
		defer cleanup()
		serveHTTP(ctx, egrp, "authority", cfg.Authority.Listen, handler)
	}
	if withGateway {
		handler, cleanup, err := buildGateway(rdb, m)
		if err != nil {
			return err
		}
		defer cleanup()
		serveHTTP(ctx, egrp, "gateway", cfg.Gateway.Listen, handler)
	}
	return egrp.Wait()
}

func serveHTTP(
	ctx context.Context,
	egrp *errgroup.Group,
	name string,
	addr string,
	handler http.Handler,
) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	egrp.Go(func() error {
		log.WithFields(log.Fields{"component": name, "addr": addr}).Info("listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	egrp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.WithField("component", name).Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
}
