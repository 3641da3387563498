// Package api exposes a small introspection surface over the running
// accounts: controller status, balances and orders over HTTP, plus a
// websocket feed of live order events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tradeforge/execore/pkg/account"
	"github.com/tradeforge/execore/pkg/events"
	"github.com/tradeforge/execore/pkg/models"
)

type Server struct {
	managers  []*account.Manager
	orderFeed *events.Stream[*models.Order]
	logger    *logrus.Logger
	port      int
	jwtSecret string
	upgrader  websocket.Upgrader
}

// NewServer builds the introspection server. orderFeed may be nil when no
// websocket feed is wired; jwtSecret empty disables auth (local use only).
func NewServer(managers []*account.Manager, orderFeed *events.Stream[*models.Order], logger *logrus.Logger, port int, jwtSecret string) *Server {
	return &Server{
		managers:  managers,
		orderFeed: orderFeed,
		logger:    logger,
		port:      port,
		jwtSecret: jwtSecret,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/controllers", s.auth(s.handleControllers))
	mux.HandleFunc("/api/balances", s.auth(s.handleBalances))
	mux.HandleFunc("/api/orders", s.auth(s.handleOrders))
	mux.HandleFunc("/api/pnl", s.auth(s.handlePnL))
	mux.HandleFunc("/ws", s.auth(s.handleWebsocket))

	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %d", s.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", s.port), handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// auth validates a bearer token signed with the configured HS256 secret. An
// empty secret disables the check.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			// Websocket clients cannot set headers from browsers.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type controllerStatus struct {
	Account   int    `json:"account"`
	Strategy  int    `json:"strategy"`
	Exchange  string `json:"exchange"`
	Market    string `json:"market"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Instances int    `json:"instances"`
}

func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make([]controllerStatus, 0)
	for _, manager := range s.managers {
		for _, ctrl := range manager.Controllers() {
			strategy := ctrl.Strategy()
			out = append(out, controllerStatus{
				Account:   ctrl.AccountID(),
				Strategy:  strategy.ID,
				Exchange:  string(strategy.Exchange),
				Market:    string(strategy.Market),
				Symbol:    strategy.Symbol.String(),
				Status:    string(ctrl.Status()),
				Instances: len(ctrl.Instances()),
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make(map[string]models.BalanceSet)
	for _, manager := range s.managers {
		for _, ctrl := range manager.Controllers() {
			out[ctrl.ControllerID()] = ctrl.Balances()
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make(map[string][]*models.Order)
	for _, manager := range s.managers {
		for _, ctrl := range manager.Controllers() {
			var orders []*models.Order
			for _, instance := range ctrl.Instances() {
				orders = append(orders, instance.Orders...)
			}
			out[ctrl.ControllerID()] = orders
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	quote := r.URL.Query().Get("quote")
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if quote == "" || err != nil {
		http.Error(w, "quote and price query parameters required", http.StatusBadRequest)
		return
	}
	out := make(map[int]float64)
	for _, manager := range s.managers {
		out[manager.Account().User.ID] = manager.ProfitAndLoss(quote, price)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleWebsocket streams live order events to the client until it
// disconnects.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.orderFeed == nil {
		http.Error(w, "No order feed configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func() { closeOnce.Do(func() { close(done) }) }

	sub := s.orderFeed.Subscribe(func(order *models.Order) {
		if err := conn.WriteJSON(order); err != nil {
			finish()
		}
	})
	defer sub.Unsubscribe()

	// Reads only detect disconnects; clients do not send data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				finish()
				return
			}
		}
	}()
	<-done
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
