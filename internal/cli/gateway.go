package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/soyeahso/smsforms/internal/channel"
	"github.com/soyeahso/smsforms/internal/channel/irc"
	"github.com/soyeahso/smsforms/internal/channel/sms"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/conversation"
	"github.com/soyeahso/smsforms/internal/gateway"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/routing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run or query the smsforms gateway",
	}

	cmd.AddCommand(newGatewayRunCmd())
	cmd.AddCommand(newGatewayStatusCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway, channels and idle-session sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating %s: %w", paths.Base, err)
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			runLog, logFile, err := logging.Open(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				File:   cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer logFile.Close()

			// Load raw config for RPC access
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			hookMgr, pluginReg, err := startPlugins(ctx, cfg, runLog)
			if err != nil {
				return err
			}
			defer pluginReg.CloseAll()

			engine, err := newEngine(cfg.FormPlayer)
			if err != nil {
				return err
			}
			disp := conversation.NewDispatcher(a.store, a.store, engine, hookMgr, dispatcherOptions(cfg), runLog)

			channels := channel.NewRegistry(runLog)
			var inbound http.Handler
			if cfg.Channels.SMS != nil {
				client := retryablehttp.NewClient()
				client.RetryMax = 2
				client.HTTPClient.Timeout = 15 * time.Second
				client.Logger = runLog.Sub("sms").Leveled()
				smsCh := sms.New(*cfg.Channels.SMS, client, runLog)
				channels.Register(smsCh)
				inbound = smsCh
			}
			if cfg.Channels.IRC != nil {
				channels.Register(irc.New(*cfg.Channels.IRC, runLog))
			}

			router := routing.NewRouter(channels, disp, a.store, hookMgr, cfg.Session.Scope, runLog)
			router.Wire(ctx)

			srv := gateway.New(cfg.Gateway, runLog,
				gateway.WithConfigRaw(raw, paths.Config),
				gateway.WithStore(a.store),
				gateway.WithRouter(router),
				gateway.WithCanceller(disp),
				gateway.WithChannels(channels),
				gateway.WithHooks(hookMgr),
				gateway.WithInbound(inbound),
			)

			sweeper := conversation.NewSweeper(a.store, hookMgr,
				time.Duration(cfg.Session.IdleMinutes)*time.Minute, runLog)

			runLog.Info().
				Int("channels", channels.Count()).
				Str("scope", cfg.Session.Scope).
				Str("store", cfg.Session.Store).
				Strs("plugins", pluginReg.List()).
				Msg("starting smsforms")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			g.Go(func() error { return channels.Run(gctx) })
			g.Go(func() error {
				return sweeper.Run(gctx, time.Duration(cfg.Session.SweepSeconds)*time.Second)
			})
			err = g.Wait()
			router.Wait()
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

func newGatewayStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Ask the running gateway for its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			c, err := dialGateway(ctx, cfg.Gateway)
			if err != nil {
				return err
			}
			defer c.Close()

			var st gateway.StatusResponse
			if err := c.call(ctx, "status", nil, &st); err != nil {
				return err
			}
			var chans struct {
				Channels []struct {
					ChannelID string `json:"channelId"`
					Connected bool   `json:"connected"`
					LastError string `json:"lastError"`
				} `json:"channels"`
			}
			if err := c.call(ctx, "channels.status", nil, &chans); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Gateway:  %s (version %s, up %s)\n", st.Addr, st.Version,
				(time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Fprintf(out, "Clients:  %d\n", st.Clients)
			fmt.Fprintf(out, "Sessions: %d open\n", st.OpenSessions)
			for _, ch := range chans.Channels {
				state := "down"
				if ch.Connected {
					state = "up"
				}
				line := fmt.Sprintf("Channel:  %s %s", ch.ChannelID, state)
				if ch.LastError != "" {
					line += " (" + ch.LastError + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
