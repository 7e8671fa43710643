package command

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloql/cmd/veloql/internal/server"
	"github.com/syssam/veloql/cmd/veloql/internal/settings"
	"github.com/syssam/veloql/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the GraphQL API of the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.load()
			if err != nil {
				return err
			}
			log, err := newLogger(s.LogMode)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, log)
		},
	}
}

func serve(ctx context.Context, s *settings.Settings, log *zap.Logger) error {
	st, err := newStack(ctx, s, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing collaborators failed", zap.Error(err))
		}
	}()

	m, _, err := st.loadModel()
	if err != nil {
		return err
	}
	rt, reg, err := st.runtime(ctx, m)
	if err != nil {
		return err
	}
	if s.Seed {
		report, err := rt.Seed(ctx, s.Truncate)
		if err != nil {
			return err
		}
		log.Info("seeded", zap.Int("items", report.Count()), zap.Strings("violations", report.Violations))
	}

	base := prometheus.NewRegistry()
	base.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := server.New(rt, reg,
		server.WithOrigins(s.Origins...),
		server.WithFilesURL(s.FilesURL),
		server.WithGatherer(base),
		server.WithLogger(log.Named("http")),
	)
	hs := &http.Server{
		Addr:              listenAddr(s.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", hs.Addr))
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	if s.Watch {
		g.Go(func() error {
			return config.Watch(ctx, s.Model, func(cfg *config.Config, err error) {
				reload(ctx, st, srv, cfg, err)
			})
		})
	}
	return g.Wait()
}

// reload swaps in a runtime for a changed model configuration. A broken
// configuration keeps the current runtime serving.
func reload(ctx context.Context, st *stack, srv *server.Server, cfg *config.Config, err error) {
	if err != nil {
		st.log.Warn("model reload failed", zap.Error(err))
		return
	}
	m, diags := config.Resolve(cfg, config.WithLogger(st.log.Named("config")))
	rt, reg, err := st.runtime(ctx, m)
	if err != nil {
		st.log.Warn("model reload failed", zap.Error(err))
		return
	}
	srv.Swap(rt, reg)
	st.log.Info("model reloaded", zap.Int("entities", len(m.Entities)), zap.Int("diagnostics", len(diags)))
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return net.JoinHostPort("", port)
}
