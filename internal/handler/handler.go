package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/auth"
	"github.com/iurnickita/esbo/internal/gzip"
	"github.com/iurnickita/esbo/internal/handler/config"
	"github.com/iurnickita/esbo/internal/hub"
	"github.com/iurnickita/esbo/internal/logger"
	"github.com/iurnickita/esbo/internal/metrics"
	"github.com/iurnickita/esbo/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Serve обслуживает HTTP до отмены ctx
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, hub *hub.Hub,
	m *metrics.Metrics, zaplog *zap.Logger) error {
	h := newHandler(cfg, auth, service, hub, m, zaplog)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.zaplog.Info("http server started", zap.String("addr", cfg.ServerAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	auth    auth.Auth
	service service.Service
	hub     *hub.Hub
	limiter *siteLimiter
	metrics *metrics.Metrics
	zaplog  *zap.Logger
}

func newHandler(cfg config.Config, auth auth.Auth, service service.Service, hub *hub.Hub,
	m *metrics.Metrics, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		hub:     hub,
		limiter: newSiteLimiter(cfg.PublicRate, cfg.PublicBurst),
		metrics: m,
		zaplog:  zaplog.Named("handler"),
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()

	// вход оператора
	mux.HandleFunc("POST /api/auth/login", h.wrap(h.auth.Login))

	// клиентские страницы сайтов: сайт по X-API-Key
	public := func(f http.HandlerFunc) http.HandlerFunc {
		return h.wrap(h.auth.SiteMiddleware(h.limiter.Middleware(f)))
	}
	mux.HandleFunc("GET /api/public/site-info", public(h.GetSiteInfo))
	mux.HandleFunc("GET /api/public/request-status/{username}", public(h.GetRequestStatus))
	mux.HandleFunc("GET /api/public/investment-banks", public(h.GetPublicBanks))
	mux.HandleFunc("GET /api/public/withdrawal-methods", public(h.GetPublicMethods))
	mux.HandleFunc("POST /api/public/investment-requests", public(h.PostInvestment))
	mux.HandleFunc("POST /api/public/withdrawal-requests", public(h.PostWithdrawal))

	// те же операции, сайт по идентификатору в пути
	gateway := func(f http.HandlerFunc) http.HandlerFunc {
		return h.wrap(h.auth.GatewayMiddleware(h.limiter.Middleware(f)))
	}
	mux.HandleFunc("GET /api/gateway/site-info/{siteId}", gateway(h.GetSiteInfo))
	mux.HandleFunc("GET /api/gateway/request-status/{username}/{siteId}", gateway(h.GetRequestStatus))
	mux.HandleFunc("GET /api/gateway/investment-banks/{siteId}", gateway(h.GetPublicBanks))
	mux.HandleFunc("GET /api/gateway/withdrawal-methods/{siteId}", gateway(h.GetPublicMethods))
	mux.HandleFunc("POST /api/gateway/investment-requests/{siteId}", gateway(h.PostInvestment))
	mux.HandleFunc("POST /api/gateway/withdrawal-requests/{siteId}", gateway(h.PostWithdrawal))

	// панель операторов
	operator := func(f http.HandlerFunc) http.HandlerFunc {
		return h.wrap(h.auth.Middleware(f))
	}
	mux.HandleFunc("GET /api/requests/investment", operator(h.GetInvestments))
	mux.HandleFunc("GET /api/requests/withdrawal", operator(h.GetWithdrawals))
	mux.HandleFunc("PUT /api/requests/investment/{id}/status", operator(h.PutInvestmentStatus))
	mux.HandleFunc("PUT /api/requests/withdrawal/{id}/status", operator(h.PutWithdrawalStatus))
	mux.HandleFunc("POST /api/requests/investment/simulate", operator(h.PostSimulateInvestment))
	mux.HandleFunc("POST /api/requests/withdrawal/simulate", operator(h.PostSimulateWithdrawal))
	mux.HandleFunc("GET /api/banks/investment", operator(h.GetBanks))
	mux.HandleFunc("GET /api/banks/withdrawal", operator(h.GetMethods))
	mux.HandleFunc("POST /api/banks/investment/lock", operator(h.PostLock))
	mux.HandleFunc("PUT /api/banks/investment/{id}/details", operator(h.PutBankDetails))
	mux.HandleFunc("GET /api/sites", operator(h.GetSites))

	// websocket не сжимается и не проходит через логер ответов: ему нужен Hijack
	mux.HandleFunc("GET /ws", h.hub.ServeWS)
	mux.Handle("GET /metrics", h.metrics.Handler())

	return mux
}

func (h *handler) wrap(f http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(f, h.zaplog))
}

type errorJSONResponse struct {
	Message string `json:"message"`
}

// writeError переводит ошибки сервиса в коды HTTP
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrDuplicatePending), errors.Is(err, service.ErrAlreadyDecided):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorJSONResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(responseJSON)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return nil
}

// clientIP - адрес клиента с учетом прокси перед сервером
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
