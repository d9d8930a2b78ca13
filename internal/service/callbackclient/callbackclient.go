package callbackclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/model"
)

const (
	TransactionDeposit    = "deposit"
	TransactionWithdrawal = "withdrawal"
)

// JSON уведомления сайта об изменении баланса клиента
type BalanceUpdate struct {
	Username        string      `json:"username"`
	Amount          json.Number `json:"amount"`
	TransactionType string      `json:"transactionType"`
	TransactionID   string      `json:"transactionId"`
}

func NewBalanceUpdate(req model.PaymentRequest) BalanceUpdate {
	txType := TransactionDeposit
	if req.Kind == model.KindWithdrawal {
		txType = TransactionWithdrawal
	}
	return BalanceUpdate{
		Username:        req.Data.Username,
		Amount:          amountNumber(req.Data.Amount),
		TransactionType: txType,
		TransactionID:   req.ID,
	}
}

func amountNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type CallbackClient interface {
	SendBalanceUpdate(ctx context.Context, site model.Site, update BalanceUpdate) error
}

type callbackClient struct {
	client *resty.Client
}

func NewCallbackClient(timeout time.Duration) CallbackClient {
	return callbackClient{client: resty.New().SetTimeout(timeout)}
}

// SendBalanceUpdate отправляет POST на адрес сайта. Повторов нет.
func (c callbackClient) SendBalanceUpdate(ctx context.Context, site model.Site, update BalanceUpdate) error {
	setreq := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(update)
	if site.Data.CallbackAPIKey != "" {
		setreq.SetAuthToken(site.Data.CallbackAPIKey)
	}
	setresp, err := setreq.Post(site.Data.CallbackURL)
	if err != nil {
		return err
	}

	switch {
	case setresp.StatusCode() >= http.StatusOK && setresp.StatusCode() < http.StatusMultipleChoices:
		return nil
	default:
		return fmt.Errorf("balance callback status: %d", setresp.StatusCode())
	}
}
