package store

import (
	"context"
	"errors"
	"time"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store/config"
)

type Store interface {
	RequestPost(ctx context.Context, req model.PaymentRequest) (model.PaymentRequest, error)
	RequestGet(ctx context.Context, id string) (model.PaymentRequest, error)
	RequestPutStatus(ctx context.Context, id string, status model.RequestStatus, operator string) (model.PaymentRequest, error)
	RequestList(ctx context.Context, filter model.RequestFilter) ([]model.PaymentRequest, error)
	RequestGetPending(ctx context.Context, kind model.RequestKind, username string, site string) (model.PaymentRequest, error)
	RequestGetSimilar(ctx context.Context, username string, iban string, site string, since time.Time) (model.PaymentRequest, error)
	RequestListApproved(ctx context.Context, filter model.ApprovedFilter) ([]model.PaymentRequest, error)
	RequestSumApprovedByIBAN(ctx context.Context, iban string) (model.ApprovedStats, error)

	SitePost(ctx context.Context, site model.Site) error
	SiteGet(ctx context.Context, id string) (model.Site, error)
	SiteGetByAPIKey(ctx context.Context, apiKey string) (model.Site, error)
	SiteGetByName(ctx context.Context, name string) (model.Site, error)
	SiteList(ctx context.Context) ([]model.Site, error)

	BankPost(ctx context.Context, bank model.InvestmentBank) error
	BankGet(ctx context.Context, id string) (model.InvestmentBank, error)
	BankGetByIBAN(ctx context.Context, iban string) (model.InvestmentBank, error)
	BankList(ctx context.Context) ([]model.InvestmentBank, error)
	BankPutDetails(ctx context.Context, id string, holder string, iban string) (model.InvestmentBank, error)

	MethodPost(ctx context.Context, method model.WithdrawalMethod) error
	MethodGet(ctx context.Context, id string) (model.WithdrawalMethod, error)
	MethodGetByName(ctx context.Context, name string) (model.WithdrawalMethod, error)
	MethodList(ctx context.Context) ([]model.WithdrawalMethod, error)

	Close() error
}

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NewStore открывает Postgres по DSN. Без DSN данные живут в памяти процесса.
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemStore(), nil
	}
	return NewPGStore(cfg)
}
