// Package detector проверяет новую заявку на дубли и подозрительные совпадения.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store"
)

// SuspiciousWindow - окно поиска похожих инвестиций с других сайтов
const SuspiciousWindow = 5 * time.Minute

type Decision struct {
	Reject     bool
	Suspicious bool
	Reason     string
}

type Detector interface {
	Evaluate(ctx context.Context, draft model.PaymentRequest) (Decision, error)
}

type detector struct {
	store store.Store
	now   func() time.Time
}

func NewDetector(store store.Store) Detector {
	return &detector{store: store, now: time.Now}
}

// NewDetectorWithClock - для тестов с фиксированным временем
func NewDetectorWithClock(store store.Store, now func() time.Time) Detector {
	return &detector{store: store, now: now}
}

func (d *detector) Evaluate(ctx context.Context, draft model.PaymentRequest) (Decision, error) {
	// Уже есть ожидающая заявка того же вида на том же сайте
	_, err := d.store.RequestGetPending(ctx, draft.Kind, draft.Data.Username, draft.Data.Site)
	if err == nil {
		return Decision{Reject: true, Reason: "pending request already exists"}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Decision{}, err
	}

	if draft.Kind != model.KindInvestment {
		return Decision{}, nil
	}

	// Тот же клиент и IBAN с другого сайта за последние 5 минут
	since := d.now().Add(-SuspiciousWindow)
	similar, err := d.store.RequestGetSimilar(ctx, draft.Data.Username, draft.Data.IBAN, draft.Data.Site, since)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{}, nil
		}
		return Decision{}, err
	}

	return Decision{
		Suspicious: true,
		Reason: fmt.Sprintf("Bu kullanıcı, son 5 dakika içinde '%s' sitesinden aynı IBAN'a talep oluşturdu.",
			similar.Data.Site),
	}, nil
}
