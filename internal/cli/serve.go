package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/httpapi"
)

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the /auth API with health and metrics endpoints. Expired
sessions are swept every http.reap_interval until shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := &http.Server{
				Addr:              g.file.HTTP.Addr,
				Handler:           httpapi.NewRouter(a.Engine, g.file.Router()),
				ReadHeaderTimeout: g.file.HTTP.ReadHeaderTimeout,
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			var wg sync.WaitGroup
			if every := g.file.HTTP.ReapInterval; every > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					reapLoop(runCtx, a.Engine, a.Logger, every)
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("http listening", slog.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				cancel()
				wg.Wait()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.Logger.Info("http shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), g.file.HTTP.ShutdownTimeout)
			defer stop()
			err = srv.Shutdown(shutdownCtx)
			cancel()
			wg.Wait()
			return err
		},
	}
}

// reapLoop sweeps expired sessions every interval until ctx ends.
func reapLoop(ctx context.Context, engine *authcore.Engine, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.ReapExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", slog.Int("count", n))
			}
		}
	}
}
