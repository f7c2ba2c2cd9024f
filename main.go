package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flokli/rgb-strand-agent/config"
	"github.com/flokli/rgb-strand-agent/led"
	"github.com/flokli/rgb-strand-agent/metrics"
	"github.com/flokli/rgb-strand-agent/mqtt"
	"github.com/flokli/rgb-strand-agent/outputs"
	"github.com/flokli/rgb-strand-agent/outputs/frame"
	"github.com/flokli/rgb-strand-agent/outputs/pwm"
	"github.com/flokli/rgb-strand-agent/server"
	"github.com/flokli/rgb-strand-agent/strand"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("agent failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "rgb-strand-agent",
		Short:        "Drive a strand of RGB LED units from MQTT",
		Long:         `Listens on <topic>/set for JSON light commands, ramps every unit towards its target and publishes the resulting state to <topic>.`,
		SilenceUsage: true,
		RunE:         run,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("config")

	load := func(path string) (*config.Config, error) {
		c, err := config.Load(path)
		if err != nil {
			return c, err
		}
		return c, c.ApplyFlags(cmd.Flags())
	}

	cfg, err := load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", path).Warn("config file not found, using defaults and flags")
		err = cfg.ApplyFlags(cmd.Flags())
	}
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = defaultClientID()
	}

	sink, err := newSink(cfg)
	if err != nil {
		return err
	}

	// shared by all units, updated in place on reload.
	settings := cfg.LED
	st, err := strand.New(cfg.Strand.TopicBase, cfg.Strand.Units, cfg.Strand.Aliases, sink, &settings)
	if err != nil {
		sink.Close()
		return err
	}

	var reloads <-chan led.Settings
	if w, err := config.NewWatcher(path, load, 500*time.Millisecond); err != nil {
		log.WithError(err).Warn("unable to watch config, reload disabled")
	} else {
		defer w.Close()
		go w.Run(ctx)
		reloads = w.Reloads()
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr)
	}

	s := server.New(st, sink, &settings, reloads)
	return s.Run(ctx, mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	})
}

func newSink(cfg *config.Config) (outputs.Driver, error) {
	pixels := frame.Pixels(cfg.Outputs())

	switch cfg.Strand.Sink {
	case "pwm":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("unable to init host drivers: %w", err)
		}
		return pwm.New(physic.Frequency(cfg.Strand.PWMFrequencyHz) * physic.Hertz), nil
	case "strip":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("unable to init host drivers: %w", err)
		}
		return frame.NewStrip(cfg.Strand.SPIPort, pixels)
	default:
		return frame.NewScreen(pixels), nil
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics server failed")
	}
}
