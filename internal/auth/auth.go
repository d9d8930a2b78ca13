package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iurnickita/esbo/internal/auth/config"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/token"
	tokenConfig "github.com/iurnickita/esbo/internal/token/config"
)

type Auth interface {
	Login(w http.ResponseWriter, r *http.Request)
	// Middleware пропускает только запросы с токеном оператора
	Middleware(h http.HandlerFunc) http.HandlerFunc
	// SiteMiddleware находит сайт по заголовку X-API-Key
	SiteMiddleware(h http.HandlerFunc) http.HandlerFunc
	// GatewayMiddleware находит сайт по {siteId} из пути
	GatewayMiddleware(h http.HandlerFunc) http.HandlerFunc
}

// SiteResolver - поиск сайта-партнера
type SiteResolver interface {
	SiteByAPIKey(ctx context.Context, apiKey string) (model.Site, error)
	SiteByID(ctx context.Context, id string) (model.Site, error)
}

const (
	HeaderOperatorID   = "X-Operator-Id"
	HeaderOperatorName = "X-Operator-Name"
	HeaderAPIKey       = "X-API-Key"
)

var (
	ErrNoToken     = errors.New("missing operator token")
	ErrBadLogin    = errors.New("invalid username or password")
	ErrNoAPIKey    = errors.New("missing API key")
	ErrBadAPIKey   = errors.New("invalid API key")
	ErrUnknownSite = errors.New("unknown site")
)

type siteKey struct{}

type auth struct {
	cfg      config.Config
	tokenCfg tokenConfig.Config
	sites    SiteResolver
}

func NewAuth(cfg config.Config, tokenCfg tokenConfig.Config, sites SiteResolver) Auth {
	return &auth{cfg: cfg, tokenCfg: tokenCfg, sites: sites}
}

type loginJSONRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginJSONResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	password, ok := a.cfg.Operators[req.Username]
	if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(req.Password)) != 1 {
		http.Error(w, ErrBadLogin.Error(), http.StatusUnauthorized)
		return
	}

	tokenString, err := token.BuildJWTString(a.tokenCfg, model.Operator{ID: req.Username, Username: req.Username})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	responseJSON, err := json.Marshal(loginJSONResponse{Token: tokenString, Username: req.Username})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// оператор из токена
		operator, err := a.getOperator(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderOperatorID, operator.ID)
		r.Header.Set(HeaderOperatorName, operator.Username)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getOperator(r *http.Request) (model.Operator, error) {
	bearer := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(bearer, "Bearer ")
	if !ok || tokenString == "" {
		return model.Operator{}, ErrNoToken
	}
	return token.GetOperator(a.tokenCfg, tokenString)
}

// Verify проверяет токен оператора вне HTTP-цепочки (websocket)
func Verify(tokenCfg tokenConfig.Config) func(string) (model.Operator, error) {
	return func(tokenString string) (model.Operator, error) {
		return token.GetOperator(tokenCfg, tokenString)
	}
}

func (a *auth) SiteMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(HeaderAPIKey)
		if apiKey == "" {
			http.Error(w, ErrNoAPIKey.Error(), http.StatusUnauthorized)
			return
		}
		site, err := a.sites.SiteByAPIKey(r.Context(), apiKey)
		if err != nil {
			http.Error(w, ErrBadAPIKey.Error(), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r.WithContext(WithSite(r.Context(), site)))
	}
}

func (a *auth) GatewayMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, err := a.sites.SiteByID(r.Context(), r.PathValue("siteId"))
		if err != nil {
			http.Error(w, ErrUnknownSite.Error(), http.StatusNotFound)
			return
		}
		if site.Data.APIKey == "" {
			http.Error(w, ErrBadAPIKey.Error(), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r.WithContext(WithSite(r.Context(), site)))
	}
}

func WithSite(ctx context.Context, site model.Site) context.Context {
	return context.WithValue(ctx, siteKey{}, site)
}

// SiteFromContext возвращает сайт, найденный SiteMiddleware или GatewayMiddleware
func SiteFromContext(ctx context.Context) (model.Site, bool) {
	site, ok := ctx.Value(siteKey{}).(model.Site)
	return site, ok
}
