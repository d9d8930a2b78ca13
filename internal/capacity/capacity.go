// Package capacity следит за лимитами банков и методов вывода.
//
// Блокировка только скрывает банк из выбора на клиентской странице
// и не влияет на уже созданные заявки.
package capacity

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/locks"
	"github.com/iurnickita/esbo/internal/metrics"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/notify"
	"github.com/iurnickita/esbo/internal/store"
)

type Tracker interface {
	SetManualLock(ctx context.Context, id string, locked bool) error
	EvaluateAndLock(ctx context.Context, req model.PaymentRequest) (bool, error)
	WouldReachLimit(ctx context.Context, iban string, amount decimal.Decimal) (model.InvestmentBank, bool, error)
	IsLocked(ctx context.Context, id string) bool
	Locked(ctx context.Context) map[string]struct{}
}

type tracker struct {
	locks    locks.LockStore
	store    store.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
}

func NewTracker(lockStore locks.LockStore, store store.Store, notifier notify.Notifier, m *metrics.Metrics, zaplog *zap.Logger) Tracker {
	return &tracker{
		locks:    lockStore,
		store:    store,
		notifier: notifier,
		metrics:  m,
		zaplog:   zaplog.Named("capacity"),
	}
}

func (t *tracker) SetManualLock(ctx context.Context, id string, locked bool) error {
	var err error
	if locked {
		_, err = t.locks.Lock(ctx, id)
	} else {
		_, err = t.locks.Unlock(ctx, id)
	}
	if err != nil {
		return err
	}
	if locked {
		t.metrics.BankLocked("manual")
	}
	t.notifier.BankLockChanged(ctx, id, locked)
	return nil
}

// EvaluateAndLock пересчитывает одобренные инвестиции по IBAN заявки
// и блокирует банк при достижении лимита суммы или количества.
// Снимается блокировка только вручную.
func (t *tracker) EvaluateAndLock(ctx context.Context, req model.PaymentRequest) (bool, error) {
	bank, err := t.store.BankGetByIBAN(ctx, model.IBANKey(req.Data.IBAN))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	stats, err := t.store.RequestSumApprovedByIBAN(ctx, bank.Data.IBAN)
	if err != nil {
		return false, err
	}
	if !limitReached(bank, stats) {
		return false, nil
	}

	changed, err := t.locks.Lock(ctx, bank.ID)
	if err != nil {
		return false, err
	}
	if changed {
		t.zaplog.Info("bank limit reached",
			zap.String("bank", bank.Data.Name),
			zap.String("bankId", bank.ID),
			zap.Int("count", stats.Count),
			zap.String("total", stats.Total.String()),
		)
		t.metrics.BankLocked("limit")
		t.notifier.BankLockChanged(ctx, bank.ID, true)
		t.notifier.BankLimitReached(ctx, bank, req.Data.Site)
	}
	return true, nil
}

// WouldReachLimit сообщает, заполнит ли лимиты банка одобрение суммы amount
func (t *tracker) WouldReachLimit(ctx context.Context, iban string, amount decimal.Decimal) (model.InvestmentBank, bool, error) {
	bank, err := t.store.BankGetByIBAN(ctx, model.IBANKey(iban))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.InvestmentBank{}, false, nil
		}
		return model.InvestmentBank{}, false, err
	}
	stats, err := t.store.RequestSumApprovedByIBAN(ctx, bank.Data.IBAN)
	if err != nil {
		return model.InvestmentBank{}, false, err
	}
	stats.Count++
	stats.Total = stats.Total.Add(amount)

	return bank, limitReached(bank, stats), nil
}

func (t *tracker) IsLocked(ctx context.Context, id string) bool {
	locked, err := t.locks.IsLocked(ctx, id)
	if err != nil {
		t.zaplog.Warn("lock state unavailable", zap.String("id", id), zap.Error(err))
		return false
	}
	return locked
}

func (t *tracker) Locked(ctx context.Context) map[string]struct{} {
	ids, err := t.locks.Locked(ctx)
	if err != nil {
		t.zaplog.Warn("lock set unavailable", zap.Error(err))
		return map[string]struct{}{}
	}
	return ids
}

// Неположительный лимит означает, что лимит не задан
func limitReached(bank model.InvestmentBank, stats model.ApprovedStats) bool {
	if bank.Data.MaxAmount.IsPositive() && stats.Total.GreaterThanOrEqual(bank.Data.MaxAmount) {
		return true
	}
	if bank.Data.MaxCount > 0 && stats.Count >= bank.Data.MaxCount {
		return true
	}
	return false
}
