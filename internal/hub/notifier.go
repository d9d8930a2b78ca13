package hub

import (
	"context"

	"github.com/iurnickita/esbo/internal/model"
)

type bankStatus struct {
	BankID   string `json:"bankId"`
	IsLocked bool   `json:"isLocked"`
}

type bankLimitFull struct {
	BankName string `json:"bankName"`
}

// Hub как канал notify.Notifier.
// Заявки видят только операторы, состояние банков - все подключения.

func (h *Hub) RequestCreated(ctx context.Context, req model.PaymentRequest) {
	event := EventNewInvestment
	if req.Kind == model.KindWithdrawal {
		event = EventNewWithdrawal
	}
	h.Publish(ctx, event, req.View(), true)
}

func (h *Hub) RequestDecided(ctx context.Context, update model.StatusUpdate, _ model.PaymentRequest) {
	h.Publish(ctx, EventStatusUpdated, update.View(), true)
}

func (h *Hub) BankLockChanged(ctx context.Context, id string, locked bool) {
	h.Publish(ctx, EventBankStatus, bankStatus{BankID: id, IsLocked: locked}, false)
}

func (h *Hub) BankLimitReached(ctx context.Context, bank model.InvestmentBank, _ string) {
	h.Publish(ctx, EventBankLimitFull, bankLimitFull{BankName: bank.Data.Name}, true)
}

// BankLimitWarning уходит только в чат
func (h *Hub) BankLimitWarning(context.Context, model.InvestmentBank, model.PaymentRequest) {}
