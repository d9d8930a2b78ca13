package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/esbo/internal/auth/config"
	"github.com/iurnickita/esbo/internal/model"
	tokenConfig "github.com/iurnickita/esbo/internal/token/config"
)

type sites map[string]model.Site

func (s sites) SiteByAPIKey(_ context.Context, apiKey string) (model.Site, error) {
	for _, site := range s {
		if site.Data.APIKey == apiKey {
			return site, nil
		}
	}
	return model.Site{}, errors.New("not found")
}

func (s sites) SiteByID(_ context.Context, id string) (model.Site, error) {
	site, ok := s[id]
	if !ok {
		return model.Site{}, errors.New("not found")
	}
	return site, nil
}

func newTestAuth() Auth {
	return NewAuth(
		config.Config{Operators: map[string]string{"ayse": "parola"}},
		tokenConfig.Config{SecretKey: "secret"},
		sites{
			"s1": {ID: "s1", Data: model.SiteData{Name: "SiteA", APIKey: "key-a"}},
			"s2": {ID: "s2", Data: model.SiteData{Name: "SiteB"}},
		},
	)
}

func login(t *testing.T, a Auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	a.Login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))
	return w
}

func TestLoginAndMiddleware(t *testing.T) {
	a := newTestAuth()

	w := login(t, a, `{"username":"ayse","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = login(t, a, `{"username":"ayse","password":"parola"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp loginJSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	var gotID, gotName string
	protected := a.Middleware(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(HeaderOperatorID)
		gotName = r.Header.Get(HeaderOperatorName)
	})

	r := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	r.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ayse", gotID)
	require.Equal(t, "ayse", gotName)

	// Без токена заголовки оператора не подделать
	r = httptest.NewRequest(http.MethodGet, "/api/requests", nil)
	r.Header.Set(HeaderOperatorName, "mallory")
	w = httptest.NewRecorder()
	protected(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	op, err := Verify(tokenConfig.Config{SecretKey: "secret"})(resp.Token)
	require.NoError(t, err)
	require.Equal(t, "ayse", op.Username)
}

func TestSiteMiddleware(t *testing.T) {
	a := newTestAuth()
	var got model.Site
	h := a.SiteMiddleware(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SiteFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/public/site-info", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/public/site-info", nil)
	r.Header.Set(HeaderAPIKey, "nope")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusForbidden, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/public/site-info", nil)
	r.Header.Set(HeaderAPIKey, "key-a")
	w = httptest.NewRecorder()
	h(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "SiteA", got.Data.Name)
}

func TestGatewayMiddleware(t *testing.T) {
	a := newTestAuth()
	var got model.Site
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/gateway/site-info/{siteId}", a.GatewayMiddleware(func(w http.ResponseWriter, r *http.Request) {
		got, _ = SiteFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/gateway/site-info/s1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "s1", got.ID)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/gateway/site-info/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	// Сайт без ключа не обслуживается через шлюз
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/gateway/site-info/s2", nil))
	require.Equal(t, http.StatusForbidden, w.Code)
}
