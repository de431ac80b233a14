package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ventwise/dab-controller/internal/config"
	"github.com/ventwise/dab-controller/internal/device"
	"github.com/ventwise/dab-controller/internal/engine"
	"github.com/ventwise/dab-controller/internal/events"
	"github.com/ventwise/dab-controller/internal/httpapi"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/logging"
	"github.com/ventwise/dab-controller/internal/metrics"
	"github.com/ventwise/dab-controller/internal/state"
	"github.com/ventwise/dab-controller/internal/telemetry"
)

// simStep is how far the simulator's thermal model advances per wall-clock step.
const simStep = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control loop with the HTTP and gRPC health endpoints",
		RunE:  runServe,
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("grpc-addr", "", "gRPC health listen address (overrides config)")
	return cmd
}

// #region serve
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("grpc-addr"); v != "" {
		cfg.GRPCAddr = v
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	dev, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := engine.Deps{
		Device:     dev.adapter,
		Store:      store,
		CycleLog:   logging.DBLogger{DB: store.DB()},
		Collectors: metrics.NewCollectors(reg),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer pub.Close()
		deps.Events = pub
	}
	if cfg.Influx.URL != "" {
		w, err := telemetry.NewWriter(ctx, cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		if err != nil {
			logger.Warn("influx telemetry disabled", "url", cfg.Influx.URL, "err", err)
		} else {
			defer w.Close()
			deps.Telemetry = w
		}
	}

	eng, err := engine.New(engineConfig(cfg), deps, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.Handler(httpapi.NewRouter(eng, reg, logger), os.Stdout),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
		logger.Info("grpc health listening", "addr", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	if dev.events != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case t, ok := <-dev.events:
					if !ok {
						return nil
					}
					eng.NotifyThermostat(t)
				}
			}
		})
	}
	if dev.sim != nil {
		g.Go(func() error {
			ticker := time.NewTicker(simStep)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					dev.sim.Step(simStep)
				}
			}
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-eng.Ready():
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			logger.Info("engine ready")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Shutdown pins every service at NOT_SERVING and ignores later updates.
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	logger.Info("controller started",
		"structure", cfg.StructureID,
		"device", cfg.Device.Kind,
		"circuits", len(cfg.DAB.Circuits),
		"strategy", cfg.DAB.Strategy,
	)

	runErr := g.Wait()

	if cfg.DAB.SnapshotKeep > 0 {
		if n, err := store.Prune(cfg.DAB.SnapshotKeep); err != nil {
			logger.Warn("prune snapshots", "err", err)
		} else if n > 0 {
			logger.Info("pruned snapshots", "removed", n, "keep", cfg.DAB.SnapshotKeep)
		}
	}
	logger.Info("controller stopped")
	return runErr
}

// #endregion serve

// #region device
// fleet is the opened device adapter plus what the serve loop drives on it.
type fleet struct {
	adapter engine.DeviceAdapter
	events  <-chan hvac.Thermostat // thermostat pushes, nil for the simulator
	sim     *device.Simulator      // stepped on a ticker, nil for mqtt
	close   func()
}

func openDevice(cfg config.Config, logger *slog.Logger) (fleet, error) {
	switch cfg.Device.Kind {
	case "mqtt":
		m := cfg.Device.MQTT
		bridge, err := device.NewMQTTBridge(device.MQTTOptions{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			Username:    m.Username,
			Password:    m.Password,
			Timeout:     m.Timeout,
		}, logger)
		if err != nil {
			return fleet{}, err
		}
		return fleet{adapter: bridge, events: bridge.Events(), close: bridge.Close}, nil
	default:
		s := cfg.Device.Simulator
		sim := device.FromCircuits(cfg.Circuits(), device.SimOptions{
			AmbientC: s.AmbientC,
			TargetC:  s.TargetC,
			Mode:     hvac.Mode(s.Mode),
		})
		return fleet{adapter: sim, sim: sim, close: func() {}}, nil
	}
}

// #endregion device
