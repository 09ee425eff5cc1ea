package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kisflow/auth"
	"kisflow/broker"
	"kisflow/config"
	"kisflow/decoder"
	"kisflow/feed"
	"kisflow/internal/channel"
	"kisflow/logger"
	"kisflow/poller"
	"kisflow/storage"
	"kisflow/strategy"
)

// component is the common lifecycle of every pipeline stage.
type component interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Kisflow.Name,
		"version": cfg.Kisflow.Version,
		"mode":    cfg.Broker.Mode,
	}).Info("starting kisflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	// Credentials must be usable before anything connects.
	credentials := auth.NewManager(cfg.Broker)
	if _, err := credentials.Token(ctx); err != nil {
		log.WithError(err).Error("failed to acquire initial access token")
		os.Exit(1)
	}
	log.WithComponent("main").Info("broker credentials verified")

	var dbClient *storage.Client
	var sink *storage.Sink
	if cfg.Storage.Enabled {
		dbClient, err = storage.NewClient(storage.Option{
			Host:     cfg.Storage.Host,
			Port:     cfg.Storage.Port,
			User:     cfg.Storage.User,
			Password: cfg.Storage.Password,
			Database: cfg.Storage.Database,
		})
		if err != nil {
			log.WithError(err).Error("failed to open database")
			os.Exit(1)
		}
		sink = storage.NewSink(cfg.Storage, dbClient, channels)
	} else {
		log.WithComponent("main").Info("storage disabled; decoded records will be discarded")
		// Something must still drain the persist queue or the decoder
		// blocks once it fills.
		go func() {
			for {
				select {
				case <-channels.Persist:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	dec := decoder.NewDecoder(channels)
	engine := strategy.NewEngine(cfg.Strategy, channels)
	simulator := broker.NewSimulator(cfg.Paper, channels)
	connector := feed.NewConnector(cfg.Feed, credentials, channels)

	// Consumers start before producers so nothing backs up at boot.
	// The feed connector is kept out of this list: it is the first
	// thing stopped during shutdown, before the queues drain.
	workers := []component{}
	if sink != nil {
		workers = append(workers, sink)
	}
	workers = append(workers, simulator, engine, dec)

	if cfg.Pollers.ExchangeRate.Enabled {
		workers = append(workers, poller.NewExchangeRatePoller(cfg.Pollers.ExchangeRate, channels))
	}
	if cfg.Pollers.GlobalIndex.Enabled {
		workers = append(workers, poller.NewGlobalIndexPoller(cfg.Pollers.GlobalIndex, channels))
	}
	if cfg.Pollers.Nav.Enabled {
		workers = append(workers, poller.NewNavPoller(cfg.Pollers.Nav, cfg.Broker, credentials, channels))
	}
	if cfg.Pollers.Balance.Enabled {
		workers = append(workers, poller.NewBalancePoller(cfg.Pollers.Balance, cfg.Broker, credentials))
	}

	var wg sync.WaitGroup
	for _, c := range append(append([]component{}, workers...), connector) {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				log.WithError(err).Warn("component failed to start")
			}
		}(c)
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// The feed stops first so no new work enters the pipeline, the
	// persistence queue gets a bounded chance to drain, and only then
	// are the remaining workers cancelled.
	log.Info("stopping feed connector")
	connector.Stop()

	drainTimeout := time.Duration(cfg.Storage.DrainTimeoutSec) * time.Second
	if sink != nil && !channels.WaitPersistDrained(drainTimeout) {
		log.Warn("persistence queue not fully drained before shutdown")
	}

	cancel()
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(3 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			log.WithError(err).Warn("failed to close database")
		}
	}

	log.Info("kisflow stopped")
}
