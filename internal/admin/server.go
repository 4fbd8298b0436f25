package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/gateway"
	"github.com/hikat/kyurgen/internal/ledger"
)

// Server exposes the public gateway callback endpoint plus a small
// basic-auth-protected operations surface over the receipt ledger.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	dispatcher *gateway.Dispatcher
	receipts   *ledger.ReceiptRepository // may be nil
	httpServer *http.Server
}

func NewServer(cfg config.Config, log *slog.Logger, dispatcher *gateway.Dispatcher, receipts *ledger.ReceiptRepository) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		receipts:   receipts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Public: the hosted checkout page posts the signed result here.
	r.Post("/gateway/callback", s.handleGatewayCallback)
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth)
		r.Get("/receipts", s.handleListReceipts)
		r.Get("/receipts/{orderID}", s.handleGetReceipt)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.AdminListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	var res gateway.SignedResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if res.OrderID == "" || res.PaymentID == "" || res.Signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing signed fields"})
		return
	}

	if !s.dispatcher.Dispatch(res) {
		// Unknown order id: the checkout was abandoned and reset, or this is a
		// duplicate delivery. Either way there is nothing waiting on it.
		s.log.Warn("unmatched gateway callback", "order_id", res.OrderID, "payment_id", res.PaymentID)
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": false})
		return
	}

	s.log.Info("gateway callback dispatched", "order_id", res.OrderID)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "receipt ledger disabled"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	receipts, err := s.receipts.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list receipts", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt is the support lookup: given the order id from a user's
// complaint, it returns the recorded payment id and verification status.
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "receipt ledger disabled"})
		return
	}

	orderID := chi.URLParam(r, "orderID")
	receipt, err := s.receipts.FindByOrderID(r.Context(), orderID)
	if err != nil {
		s.log.Error("find receipt", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no receipt for order"})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="kyurgen admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
