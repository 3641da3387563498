// Package config loads the typed application configuration: file, environment
// overrides and, optionally, exchange credentials pulled from GCP Secret
// Manager.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tradeforge/execore/pkg/models"
	"github.com/tradeforge/execore/pkg/secrets"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Executor  ExecutorConfig            `mapstructure:"executor"`
	Accounts  []AccountConfig           `mapstructure:"accounts"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	GCP       GCPConfig                 `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ExecutorConfig seeds rate limits used before the venues advertise theirs.
type ExecutorConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	OrdersPerSecond   int `mapstructure:"orders_per_second"`
	// PartialFillTimeout is the debounce window in seconds before a stalled
	// partial fill is finalized as unsatisfied.
	PartialFillTimeout int `mapstructure:"partial_fill_timeout"`
}

func (e ExecutorConfig) PartialPeriod() time.Duration {
	return time.Duration(e.PartialFillTimeout) * time.Second
}

type AccountConfig struct {
	ID          int                              `mapstructure:"id"`
	Name        string                           `mapstructure:"name"`
	Folder      string                           `mapstructure:"folder"`
	Credentials map[string]models.APICredentials `mapstructure:"credentials"`
	Strategies  []StrategyConfig                 `mapstructure:"strategies"`
}

type StrategyConfig struct {
	ID         int     `mapstructure:"id"`
	Controller string  `mapstructure:"controller"`
	Exchange   string  `mapstructure:"exchange"`
	Market     string  `mapstructure:"market"`
	Base       string  `mapstructure:"base"`
	Quote      string  `mapstructure:"quote"`
	AutoStart  bool    `mapstructure:"auto_start"`
	Investment float64 `mapstructure:"investment"`
	Leverage   float64 `mapstructure:"leverage"`
}

// Strategy converts the config entry into the domain model.
func (s StrategyConfig) Strategy() *models.Strategy {
	return &models.Strategy{
		ID:         s.ID,
		Controller: s.Controller,
		Exchange:   models.ExchangeName(s.Exchange),
		Market:     models.MarketType(s.Market),
		Symbol:     models.Symbol{Base: s.Base, Quote: s.Quote},
		AutoStart:  s.AutoStart,
		Params: models.StrategyParams{
			Investment: s.Investment,
			Leverage:   s.Leverage,
		},
	}
}

type ExchangeConfig struct {
	RestURL      string `mapstructure:"rest_url"`
	WebsocketURL string `mapstructure:"websocket_url"`
	Sandbox      bool   `mapstructure:"sandbox"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	UseSecrets      bool   `mapstructure:"use_secrets"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/execore")
	}

	v.SetEnvPrefix("EXECORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), &config, logrus.New()); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("executor.requests_per_second", 5)
	v.SetDefault("executor.orders_per_second", 5)
	v.SetDefault("executor.partial_fill_timeout", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")
}

func overrideFromEnv(config *Config) {
	if secret := os.Getenv("EXECORE_JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// loadSecretsFromGCP fills in credentials missing from the config file. Values
// already set locally win over Secret Manager.
func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	manager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer manager.Close()

	for i := range config.Accounts {
		account := &config.Accounts[i]
		if account.Credentials == nil {
			account.Credentials = make(map[string]models.APICredentials)
		}
		for _, strategy := range account.Strategies {
			exchange := models.ExchangeName(strategy.Exchange)
			if exchange == models.ExchangeSimulator {
				continue
			}
			if creds, ok := account.Credentials[strategy.Exchange]; ok && creds.APIKey != "" {
				continue
			}
			creds, err := manager.GetAPICredentials(ctx, exchange, account.ID)
			if err != nil {
				return fmt.Errorf("loading credentials for account %d on %s: %w", account.ID, exchange, err)
			}
			account.Credentials[strategy.Exchange] = creds
		}
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
