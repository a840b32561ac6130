package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/relaywatch/pzem2mqtt/internal/adapter/actor"
	"github.com/relaywatch/pzem2mqtt/internal/adapter/relay"
	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/actor"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/monitor"
	"github.com/relaywatch/pzem2mqtt/internal/server"
	"github.com/relaywatch/pzem2mqtt/internal/util/actorutil"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// gracefulShutdown waits for a signal or a fatal control error, then stops the
// http server. It returns the fatal error, if any.
func gracefulShutdown(apiServer *http.Server, fatal <-chan error, logger *zap.Logger) error {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cause error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully, press Ctrl+C again to force")
	case cause = <-fatal:
		logger.Error("shutting down on fatal error", zap.Error(cause))
	}

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	return cause
}

func main() {
	os.Exit(run())
}

func run() int {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return 1
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("pzem2mqtt", zap.String("version", versioninfo.Short()))

	// metrics
	registry := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(registry)

	// the serial port must be there before anything else starts
	meter, err := pzem004.CreateSerialMeterReader(pzem004.SerialConfig{
		Device:   cfg.Serial.Device,
		BaudRate: cfg.Serial.BaudRate,
		Timeout:  cfg.Serial.Timeout(),
	}, logger, metrics.MeterInstrument())
	if err != nil {
		logger.Error("cannot open meter", zap.String("device", cfg.Serial.Device), zap.Error(err))
		return 1
	}

	actuator, err := relay.NewActuator(cfg.Relay, logger)
	if err != nil {
		logger.Error("cannot init relay outputs", zap.String("driver", cfg.Relay.Driver), zap.Error(err))
		_ = meter.Close()
		return 1
	}

	// reading sink
	es := &eventstream.EventStream{}
	es.Subscribe(metrics.ObserveEvent)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	fatal := make(chan error, 1)
	onFatal := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, es, meterActorProvider(cfg, meter, logger),
			mqttActorProvider(cfg, logger), actuator, onFatal, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Error("cannot spawn master actor", zap.Error(err))
		_ = meter.Close()
		return 1
	}

	server := server.NewServer(*cfg, ctx, pid, registry)

	// Run graceful shutdown in a separate goroutine
	done := make(chan error, 1)
	go func() {
		done <- gracefulShutdown(server, fatal, logger)
	}()

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", zap.Error(err))
		onFatal(err)
	}

	// Wait for the graceful shutdown to complete
	cause := <-done

	// stopping the master releases the outputs and closes the serial port
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()
	logger.Info("graceful shutdown complete")

	if cause != nil {
		return 1
	}
	return 0
}

func initConfig() (*config.Config, error) {

	// alias PORT => PZEM_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("PZEM_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("pzem")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func meterActorProvider(cfg *config.Config, meter pzem004.MeterReader, logger *zap.Logger) actor.MeterActorProvider {
	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(meter, cfg.Serial.Timeout(), logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.device", "/dev/ttyUSB0")
	viper.SetDefault("serial.baud_rate", 9600)
	viper.SetDefault("serial.timeout_millis", 10000)
	viper.SetDefault("control.upper_threshold_amp", 1.0)
	viper.SetDefault("control.lower_threshold_amp", 1.0)
	viper.SetDefault("control.poll_interval_millis", 1000)
	viper.SetDefault("control.max_consecutive_io_errors", 5)
	viper.SetDefault("monitor.full_readout_cron", "0/30 * * * * *")
	viper.SetDefault("relay.driver", config.RELAY_DRIVER_NONE)
	viper.SetDefault("relay.start_pin", "GPIO20")
	viper.SetDefault("relay.stop_pin", "GPIO21")
	viper.SetDefault("mqtt.enable", true)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "pzem")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
