package exchange

import (
	"fmt"

	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/gateway"
	"github.com/tradeforge/execore/pkg/models"
)

func accountKey(account *models.Account) string {
	return fmt.Sprintf("%d", account.User.ID)
}

// accountStream returns the venue websocket session for one account, creating
// and connecting it on first use.
func (e *Exchange) accountStream(account *models.Account) gateway.ExchangeStream {
	key := accountKey(account)
	e.mu.Lock()
	if st, ok := e.accountSt[key]; ok {
		e.mu.Unlock()
		return st
	}
	st := e.gw.AccountStream(e.market, account.Exchanges[e.name])
	e.accountSt[key] = st
	e.mu.Unlock()
	if err := st.Connect(e.ctx); err != nil {
		e.log.WithError(err).WithField("account", key).Error("Failed to connect account stream")
	}
	return st
}

// AccountEvents returns the per-account broadcast channel. On first call it
// connects the account websocket, subscribes the normalizers and launches the
// initial account-info retrieval whose outcome is published as the
// accountReady event.
func (e *Exchange) AccountEvents(account *models.Account) *events.Stream[models.AccountEvent] {
	key := accountKey(account)
	e.mu.Lock()
	if st, ok := e.accountEvents[key]; ok {
		e.mu.Unlock()
		return st
	}
	subject := events.NewStream[models.AccountEvent]()
	e.accountEvents[key] = subject
	e.mu.Unlock()

	ws := e.accountStream(account)
	ws.AccountUpdate().Subscribe(func(update models.AccountStreamUpdate) {
		e.onAccountUpdate(account, update)
	})
	ws.OrderUpdate().Subscribe(func(order *models.Order) {
		e.onOrderUpdate(account, order)
	})
	go func() {
		ready, err := e.RetrieveAccountInfo(account)
		if err != nil {
			// Transient or precondition failure: the account simply never
			// becomes ready, which keeps its controllers gated.
			e.log.WithError(err).WithField("account", key).Error("Failed to retrieve account info")
		}
		subject.Publish(models.AccountEvent{Type: models.AccountEventReady, Ready: ready})
	}()
	return subject
}

// RetrieveAccountInfo fetches permissions and initial balances. Trading being
// disabled or an empty balance set is a precondition error.
func (e *Exchange) RetrieveAccountInfo(account *models.Account) (bool, error) {
	api := e.gw.API(e.market)
	api.SetCredentials(account.Exchanges[e.name])
	info, err := api.GetAccountInfo(e.ctx)
	if err != nil {
		return false, err
	}
	if !info.CanTrade {
		return false, fmt.Errorf("%w: account %d on market %s", models.ErrTradingDisabled, account.User.ID, e.market)
	}
	market := account.Market(e.market)
	market.Lock()
	processInitialBalances(market, info.Balances)
	known := len(market.Balances)
	market.Unlock()
	if known == 0 {
		return false, fmt.Errorf("%w: account %d on market %s", models.ErrNoBalances, account.User.ID, e.market)
	}
	return true, nil
}

// processInitialBalances requires the market lock held. A balance already set
// by an earlier websocket update is more recent than the REST snapshot and
// wins.
func processInitialBalances(market *models.AccountMarket, coins []*models.Balance) {
	for _, balance := range coins {
		if _, ok := market.Balances[balance.Asset]; !ok {
			cp := *balance
			market.Balances[balance.Asset] = &cp
		}
	}
}

// onAccountUpdate folds a raw websocket balance/position update into the
// account market and republishes the touched balances on the account channel.
// Spot updates may omit the locked component; present fields win, absent
// fields keep their previous value.
func (e *Exchange) onAccountUpdate(account *models.Account, update models.AccountStreamUpdate) {
	accountMarket := account.Market(e.market)
	accountMarket.Lock()
	touched := make([]*models.Balance, 0, len(update.Balances))
	if e.market == models.MarketTypeSpot {
		for _, sb := range update.Balances {
			balance := accountMarket.Balances.Get(sb.Asset)
			if sb.Balance != nil {
				balance.Balance = *sb.Balance
			}
			if sb.Available != nil {
				balance.Available = *sb.Available
			}
			if sb.Locked != nil {
				balance.Locked = *sb.Locked
			}
			touched = append(touched, balance)
		}
	} else {
		for _, pos := range update.Positions {
			accountMarket.AveragePrices[pos.Symbol.String()] = pos.EntryPrice
		}
		for _, sb := range update.Balances {
			balance := accountMarket.Balances.Get(sb.Asset)
			if sb.Balance != nil {
				balance.Balance = *sb.Balance
			}
			touched = append(touched, balance)
		}
	}
	accountMarket.Unlock()
	e.mu.Lock()
	subject := e.accountEvents[accountKey(account)]
	e.mu.Unlock()
	if subject != nil && len(touched) > 0 {
		subject.Publish(models.AccountEvent{
			Type:     models.AccountEventUpdate,
			Market:   e.market,
			Balances: touched,
		})
	}
}
