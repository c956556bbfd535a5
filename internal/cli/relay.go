package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/internal/ratelimit"
	"github.com/taior/taior-go/pkg/transport"
)

var (
	relayListen string
	relayMax    int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a UDP relay fallback server",
	Long: `Runs the UDP relay fallback for NAT-restricted peers. The relay
forwards opaque envelopes between registered clients and never sees
plaintext: onion layers keep every payload sealed.`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", "0.0.0.0:4700", "UDP listen address")
	relayCmd.Flags().IntVar(&relayMax, "max-clients", 10000, "maximum registered clients")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	logLevel := "info"
	if IsVerbose() {
		logLevel = "debug"
	}
	log := logging.NewLogger(logging.LogConfig{Level: logLevel, Format: "console"})
	m := metrics.NewPrometheusMetrics()

	cfg := transport.DefaultRelayServerConfig()
	cfg.ListenAddr = relayListen
	cfg.MaxClients = relayMax
	cfg.RateLimit = ratelimit.Config{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}

	server := transport.NewRelayServer(cfg, nil, log, m)
	if err := server.Start(); err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("relay listening on %s\n", relayListen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	server.Stop()
	return nil
}
