// Package notify разводит события заявок и банков по всем каналам операторов.
package notify

import (
	"context"

	"github.com/iurnickita/esbo/internal/model"
)

// Notifier - канал доставки событий (веб-панель, чат).
// Реализации не должны блокировать вызывающего: доставка best-effort,
// ошибки доставки логируются внутри канала.
type Notifier interface {
	RequestCreated(ctx context.Context, req model.PaymentRequest)
	RequestDecided(ctx context.Context, update model.StatusUpdate, req model.PaymentRequest)
	BankLockChanged(ctx context.Context, id string, locked bool)
	BankLimitReached(ctx context.Context, bank model.InvestmentBank, site string)
	BankLimitWarning(ctx context.Context, bank model.InvestmentBank, req model.PaymentRequest)
}

// Fanout отправляет каждое событие во все каналы по очереди
type Fanout []Notifier

func (f Fanout) RequestCreated(ctx context.Context, req model.PaymentRequest) {
	for _, n := range f {
		n.RequestCreated(ctx, req)
	}
}

func (f Fanout) RequestDecided(ctx context.Context, update model.StatusUpdate, req model.PaymentRequest) {
	for _, n := range f {
		n.RequestDecided(ctx, update, req)
	}
}

func (f Fanout) BankLockChanged(ctx context.Context, id string, locked bool) {
	for _, n := range f {
		n.BankLockChanged(ctx, id, locked)
	}
}

func (f Fanout) BankLimitReached(ctx context.Context, bank model.InvestmentBank, site string) {
	for _, n := range f {
		n.BankLimitReached(ctx, bank, site)
	}
}

func (f Fanout) BankLimitWarning(ctx context.Context, bank model.InvestmentBank, req model.PaymentRequest) {
	for _, n := range f {
		n.BankLimitWarning(ctx, bank, req)
	}
}

// Nop - канал без доставки
type Nop struct{}

func (Nop) RequestCreated(context.Context, model.PaymentRequest) {}

func (Nop) RequestDecided(context.Context, model.StatusUpdate, model.PaymentRequest) {}

func (Nop) BankLockChanged(context.Context, string, bool) {}

func (Nop) BankLimitReached(context.Context, model.InvestmentBank, string) {}

func (Nop) BankLimitWarning(context.Context, model.InvestmentBank, model.PaymentRequest) {}
