package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/sttstream/pkg/runner"
	"github.com/harunnryd/sttstream/pkg/transports/ws"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose streaming sessions over websocket",
		Long: `Serve one recognition session per websocket connection.

Clients send binary audio frames, then {"event":"stop"} or close the socket.
The server answers with ready, result and end events.

Examples:
  sttstream -c config.yaml serve
  sttstream -c config.yaml serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw := newGateway(a, addr)
			lr := runner.NewLifecycleRunner(gw, runner.Hooks{
				OnStart: func(ctx context.Context) error {
					if err := gw.Start(ctx); err != nil {
						return err
					}
					a.logger.Info("gateway_ready", "addr", gw.ReadyFields()["addr"], "path", gw.ReadyFields()["path"])
					return nil
				},
			}, time.Duration(a.cfg.Server.DrainTimeoutMS)*time.Millisecond, a.logger)
			lr.BannerOut = cmd.ErrOrStderr()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return lr.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to server.addr from config")
	return cmd
}

func newGateway(a *app, addr string) *ws.Gateway {
	s := a.cfg.Server
	if addr == "" {
		addr = s.Addr
	}
	return ws.New(ws.Config{
		Addr:             addr,
		Path:             s.Path,
		AllowAnyOrigin:   s.AllowAnyOrigin,
		AllowedOrigins:   s.AllowedOrigins,
		ResultBufferSize: a.cfg.ResultBufferSize,
		BreakerThreshold: s.BreakerThreshold,
		BreakerCooldown:  time.Duration(s.BreakerCooldownMS) * time.Millisecond,
	}, a.openStreaming, a.redactor, a.logger)
}
