package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aweris/blefs"
	"github.com/aweris/blefs/internal/bluez"
	"github.com/aweris/blefs/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Advertise and serve the store over BLE",
	Long: "Power the adapter, advertise the file service and answer one central at a " +
		"time until interrupted. The adapter is power-cycled after every connection.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("adapter", "", "bluetooth adapter (default hci0)")
	flags.String("name", "", "advertised local name")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	flags.Bool("download-errors", false, "answer failed downloads with ERR: instead of silence")
	flags.Bool("verify-digest", false, "reject uploads whose MD5 does not match")

	viper.BindPFlag("adapter", flags.Lookup("adapter"))
	viper.BindPFlag("advertise.name", flags.Lookup("name"))
	viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	viper.BindPFlag("protocol.download_errors", flags.Lookup("download-errors"))
	viper.BindPFlag("protocol.verify_digest", flags.Lookup("verify-digest"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	radio, err := bluez.Open(cfg.Adapter, bluez.WithLogger(log.Named("bluez")))
	if err != nil {
		return err
	}
	defer radio.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := blefs.NewMetrics(reg)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := radio.Activate(ctx); err != nil {
		return err
	}

	p := blefs.New(radio, st, peripheralOptions(cfg, log, metrics)...)
	log.Info("serving", zap.String("store", cfg.Store.Dir), zap.String("adapter", cfg.Adapter))

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

func peripheralOptions(cfg *config.Config, log *zap.Logger, m *blefs.Metrics) []blefs.Option {
	return []blefs.Option{
		blefs.WithLogger(log),
		blefs.WithMetrics(m),
		blefs.WithAdvertiseName(cfg.Advertise.Name),
		blefs.WithAdvertiseInterval(cfg.Advertise.Interval),
		blefs.WithAdvertiseTimeout(cfg.Advertise.Timeout),
		blefs.WithPollInterval(cfg.Lifecycle.PollInterval),
		blefs.WithCancelTimeout(cfg.Lifecycle.CancelTimeout),
		blefs.WithResetDelay(cfg.Lifecycle.ResetDelay),
		blefs.WithResponsePacing(cfg.Lifecycle.ResponsePacing),
		blefs.WithTransportUnit(cfg.Protocol.TransportUnit),
		blefs.WithDownloadErrors(cfg.Protocol.DownloadErrors),
		blefs.WithVerifyDigest(cfg.Protocol.VerifyDigest),
	}
}
