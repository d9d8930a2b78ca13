package callbackclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/esbo/internal/model"
)

func TestSendBalanceUpdate(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := model.PaymentRequest{
		ID:   "req-1",
		Kind: model.KindInvestment,
		Data: model.PaymentRequestData{Username: "alice", Amount: decimal.NewFromInt(500)},
	}
	site := model.Site{Data: model.SiteData{CallbackURL: srv.URL, CallbackAPIKey: "secret"}}

	client := NewCallbackClient(time.Second)
	require.NoError(t, client.SendBalanceUpdate(context.Background(), site, NewBalanceUpdate(req)))

	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, "alice", got["username"])
	require.Equal(t, float64(500), got["amount"])
	require.Equal(t, "deposit", got["transactionType"])
	require.Equal(t, "req-1", got["transactionId"])
}

func TestSendBalanceUpdateStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	req := model.PaymentRequest{ID: "wreq-1", Kind: model.KindWithdrawal,
		Data: model.PaymentRequestData{Username: "bob", Amount: decimal.RequireFromString("12.50")}}
	update := NewBalanceUpdate(req)
	require.Equal(t, TransactionWithdrawal, update.TransactionType)
	require.Equal(t, "12.5", update.Amount.String())

	client := NewCallbackClient(time.Second)
	err := client.SendBalanceUpdate(context.Background(), model.Site{Data: model.SiteData{CallbackURL: srv.URL}}, update)
	require.Error(t, err)
}
