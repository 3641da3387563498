package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tradeforge/execore/api"
	"github.com/tradeforge/execore/internal/config"
	"github.com/tradeforge/execore/pkg/account"
	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/exchange"
	"github.com/tradeforge/execore/pkg/gateway"
	"github.com/tradeforge/execore/pkg/models"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "execore",
		Short: "Automated trading execution core",
		Long:  `Runs trading strategies against exchange accounts: rate-limited order dispatch, partial-fill tracking and balance reconciliation`,
		Run:   runCore,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// configStrategies adapts the config entries of one account to the strategy
// loader hook.
type configStrategies struct {
	entries []config.StrategyConfig
}

func (l configStrategies) LoadStrategies() ([]*models.Strategy, error) {
	out := make([]*models.Strategy, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, entry.Strategy())
	}
	return out, nil
}

func runCore(cmd *cobra.Command, args []string) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Optional .env for local runs; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One exchange per (venue, market), shared by every account trading it.
	// Venue adapters register their gateway via side-effect imports.
	exchanges := make(map[string]*exchange.Exchange)
	provider := func(_ *models.Account, strategy *models.Strategy) (*exchange.Exchange, error) {
		key := string(strategy.Exchange) + "#" + string(strategy.Market)
		if ex, ok := exchanges[key]; ok {
			return ex, nil
		}
		gw, err := gateway.Lookup(strategy.Exchange)
		if err != nil {
			return nil, err
		}
		ex := exchange.New(ctx, gw, strategy.Market, exchange.Options{
			PartialPeriod:     cfg.Executor.PartialPeriod(),
			RequestsPerSecond: cfg.Executor.RequestsPerSecond,
			Logger:            logger,
		})
		exchanges[key] = ex
		return ex, nil
	}

	var managers []*account.Manager
	for _, entry := range cfg.Accounts {
		acc := models.NewAccount(models.UserInfo{ID: entry.ID, Name: entry.Name, Folder: entry.Folder})
		for name, creds := range entry.Credentials {
			acc.Exchanges[models.ExchangeName(name)] = creds
		}
		manager, err := account.NewManager(acc, account.Options{
			Strategies:      configStrategies{entries: entry.Strategies},
			Exchanges:       provider,
			OrdersPerSecond: cfg.Executor.OrdersPerSecond,
			Logger:          logger,
		})
		if err != nil {
			logger.WithError(err).WithField("account", entry.ID).Fatal("Failed to initialize account")
		}
		managers = append(managers, manager)
	}

	// Fan every controller's order events into one feed for the api websocket.
	feed := events.NewStream[*models.Order]()
	for _, manager := range managers {
		for _, ctrl := range manager.Controllers() {
			key := string(ctrl.Strategy().Exchange) + "#" + string(ctrl.Strategy().Market)
			if ex, ok := exchanges[key]; ok {
				ex.OrderEvents(ctrl.ControllerID()).Subscribe(feed.Publish)
			}
		}
	}

	apiServer := api.NewServer(managers, feed, logger, cfg.Server.Port, cfg.Server.JWTSecret)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Execution core is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	for _, manager := range managers {
		for _, ctrl := range manager.Controllers() {
			ctrl.Close()
		}
	}
	cancel()

	logger.Info("Execution core stopped")
}
