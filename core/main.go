package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"udpwire-go/pkg/logger"
	"udpwire-go/pkg/stats"
	"udpwire-go/source/peer"
	"udpwire-go/source/protocol"
)

var (
	cfgPath  string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:          "udpwire",
		Short:        "Reliable UDP message transport",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	root.AddCommand(serveCommand(), connectCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
	logger.Sync()
}

func loadConfig() (*peer.Config, error) {
	if cfgPath == "" {
		return peer.DefaultConfig(), nil
	}
	return peer.LoadConfig(cfgPath)
}

func serveMetrics(p *peer.Peer, endpoint string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(stats.NewCollector(p))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(endpoint, mux); err != nil {
			logger.Error("metrics endpoint: %v", err)
		}
	}()
	logger.Info("serving metrics on http://%s/metrics", endpoint)
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.EnableMessageKind(peer.KindConnectionLatencyUpdated)

			p := peer.NewPeer(cfg)
			if err := p.Start(); err != nil {
				return err
			}
			if cfg.MetricsEndpoint != "" {
				serveMetrics(p, cfg.MetricsEndpoint)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for {
				msg, err := p.ReadMessage(ctx)
				if err != nil {
					break
				}
				switch msg.Kind {
				case peer.KindData:
					text, _ := msg.ReadString()
					logger.Info("%s: %q", msg.SenderEndpoint, text)
					reply := p.CreateMessage(len(text) + 8)
					reply.WriteString(text)
					_ = p.SendMessage(msg.SenderConnection, reply, protocol.DeliveryReliableOrdered, 0)
				case peer.KindConnectionLatencyUpdated:
					rtt, _ := msg.ReadFloat32()
					logger.Debug("%s: rtt %.1fms", msg.SenderEndpoint, rtt*1000)
				}
				p.Recycle(msg)
			}

			p.Shutdown("server shutting down")
			return nil
		},
	}
}

func connectCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "connect <host:port>",
		Short: "Connect to a server and send periodic messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Port = 0
			cfg.EnableMessageKind(peer.KindConnectionLatencyUpdated)

			p := peer.NewPeer(cfg)
			if err := p.Start(); err != nil {
				return err
			}
			conn, err := p.Connect(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				for {
					msg, err := p.ReadMessage(ctx)
					if err != nil {
						return
					}
					switch msg.Kind {
					case peer.KindData:
						text, _ := msg.ReadString()
						logger.Info("echo: %q", text)
					case peer.KindStatusChanged:
						status, _ := msg.ReadByte()
						reason, _ := msg.ReadString()
						logger.Info("status: %s (%s)", peer.Status(status), reason)
					case peer.KindConnectionLatencyUpdated:
						rtt, _ := msg.ReadFloat32()
						logger.Info("rtt %.1fms, remote clock offset %+.3fs",
							rtt*1000, msg.SenderConnection.RemoteTimeOffset())
					}
					p.Recycle(msg)
				}
			}()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			seq := 0
			for {
				select {
				case <-ctx.Done():
					p.Shutdown("client shutting down")
					return nil
				case <-ticker.C:
					if conn.Status() != peer.StatusConnected {
						continue
					}
					seq++
					msg := p.CreateMessage(32)
					msg.WriteString(fmt.Sprintf("message %d", seq))
					_ = p.SendMessage(conn, msg, protocol.DeliveryReliableOrdered, 0)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "send interval")
	return cmd
}
