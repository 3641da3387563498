// Package account orchestrates the strategies of one user: it loads them
// through a hook, provisions the shared per-market state with its orders
// executor, and owns the controllers' lifecycles.
package account

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/controller"
	"github.com/tradeforge/execore/pkg/exchange"
	"github.com/tradeforge/execore/pkg/models"
)

// StrategyLoader fetches the strategies of one account. Storage lives outside
// the core.
type StrategyLoader interface {
	LoadStrategies() ([]*models.Strategy, error)
}

// ExchangeProvider resolves the exchange for a strategy. Simulated strategies
// get a dedicated in-memory exchange; live ones share per venue/market.
type ExchangeProvider func(account *models.Account, strategy *models.Strategy) (*exchange.Exchange, error)

// StoreProvider builds the instance store for one controller. Nil means every
// controller uses an in-memory store.
type StoreProvider func(account *models.Account, strategy *models.Strategy) controller.InstanceStore

type Options struct {
	Strategies StrategyLoader
	Exchanges  ExchangeProvider
	Stores     StoreProvider
	Logger     *logrus.Logger
	// OrdersPerSecond seeds each market's order quota until the venue
	// advertises its trade limit. Zero keeps the default.
	OrdersPerSecond int
	// InitializeManually skips strategy loading at construction.
	InitializeManually bool
}

// Manager runs the strategies of one account.
type Manager struct {
	account     *models.Account
	strategies  []*models.Strategy
	controllers []*controller.Controller
	opts        Options
	log         *logrus.Logger
}

// NewManager wires an account and, unless InitializeManually is set, loads and
// auto-starts its strategies.
func NewManager(account *models.Account, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	m := &Manager{account: account, opts: opts, log: opts.Logger}
	if !opts.InitializeManually {
		if err := m.Initialize(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Account() *models.Account { return m.account }

func (m *Manager) Controllers() []*controller.Controller { return m.controllers }

// Initialize loads the account's strategies and starts the auto-start ones.
// Precondition errors from any controller abort initialization and propagate.
func (m *Manager) Initialize() error {
	if m.opts.Strategies == nil {
		return fmt.Errorf("account %d: no strategy loader configured", m.account.User.ID)
	}
	strategies, err := m.opts.Strategies.LoadStrategies()
	if err != nil {
		return fmt.Errorf("loading strategies for account %d: %w", m.account.User.ID, err)
	}
	m.strategies = append(m.strategies, strategies...)
	for _, strategy := range strategies {
		if !strategy.AutoStart {
			continue
		}
		if _, err := m.StartStrategy(strategy); err != nil {
			return err
		}
	}
	return nil
}

// StartStrategy provisions the strategy's market mirror and orders executor on
// first use and builds its controller. The controller comes up off and starts
// itself as its readiness gates open.
func (m *Manager) StartStrategy(strategy *models.Strategy) (*controller.Controller, error) {
	if m.opts.Exchanges == nil {
		return nil, fmt.Errorf("account %d: no exchange provider configured", m.account.User.ID)
	}
	ex, err := m.opts.Exchanges(m.account, strategy)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange for strategy %d: %w", strategy.ID, err)
	}
	market := m.account.Market(strategy.Market)
	if market.Executor == nil {
		market.Executor = exchange.NewOrdersExecutor(ex, m.account.User.ID, strategy, m.opts.OrdersPerSecond)
	}
	var store controller.InstanceStore
	if m.opts.Stores != nil {
		store = m.opts.Stores(m.account, strategy)
	}
	ctrl, err := controller.New(m.account, strategy, ex, controller.Options{Store: store, Logger: m.log})
	if err != nil {
		return nil, err
	}
	m.controllers = append(m.controllers, ctrl)
	m.log.WithFields(logrus.Fields{
		"account":  m.account.User.ID,
		"strategy": strategy.ID,
		"exchange": strategy.Exchange,
		"market":   strategy.Market,
		"symbol":   strategy.Symbol.String(),
	}).Info("Strategy started")
	return ctrl, nil
}

// StopStrategy forces a controller off. Its market mirror and executor stay up
// for the other controllers sharing them.
func (m *Manager) StopStrategy(ctrl *controller.Controller) {
	ctrl.Stop()
}

// AllQuoteAssets returns the distinct quote assets across running controllers.
func (m *Manager) AllQuoteAssets() []string {
	var assets []string
	seen := make(map[string]bool)
	for _, ctrl := range m.controllers {
		quote := ctrl.Strategy().Symbol.Quote
		if !seen[quote] {
			seen[quote] = true
			assets = append(assets, quote)
		}
	}
	return assets
}

// ProfitAndLoss sums unrealized PnL and margin at the given mark price over
// every controller trading the quote asset.
func (m *Manager) ProfitAndLoss(quoteAsset string, price float64) float64 {
	var total float64
	for _, ctrl := range m.controllers {
		if ctrl.Strategy().Symbol.Quote != quoteAsset {
			continue
		}
		total += ctrl.LatenteAndMargin(price)
	}
	return total
}
