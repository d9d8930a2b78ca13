package detector

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store"
)

func investment(site, username, iban string, at time.Time) model.PaymentRequest {
	return model.PaymentRequest{
		ID:   "req-" + uuid.NewString(),
		Kind: model.KindInvestment,
		Data: model.PaymentRequestData{
			Site:      site,
			Username:  username,
			Amount:    decimal.NewFromInt(100),
			CreatedAt: at,
			IBAN:      iban,
		},
	}
}

func TestDetectorRejectsPendingDuplicate(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	d := NewDetectorWithClock(s, func() time.Time { return now })

	_, err := s.RequestPost(ctx, investment("SiteA", "alice", "TR01", now))
	require.NoError(t, err)

	decision, err := d.Evaluate(ctx, investment(" SiteA ", "alice", "TR01", now))
	require.NoError(t, err)
	require.True(t, decision.Reject)

	// Имя пользователя сравнивается с учетом регистра
	decision, err = d.Evaluate(ctx, investment("SiteA", "Alice", "TR01", now))
	require.NoError(t, err)
	require.False(t, decision.Reject)

	// Вывод не конфликтует с инвестицией
	wd := investment("SiteA", "alice", "", now)
	wd.Kind = model.KindWithdrawal
	decision, err = d.Evaluate(ctx, wd)
	require.NoError(t, err)
	require.Equal(t, Decision{}, decision)
}

func TestDetectorSuspiciousWindow(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	d := NewDetectorWithClock(s, func() time.Time { return now })

	// Ровно 5 минут назад - еще в окне
	_, err := s.RequestPost(ctx, investment("SiteB", "alice", "TR01", now.Add(-SuspiciousWindow)))
	require.NoError(t, err)

	decision, err := d.Evaluate(ctx, investment("SiteA", "alice", "TR01", now))
	require.NoError(t, err)
	require.False(t, decision.Reject)
	require.True(t, decision.Suspicious)
	require.Contains(t, decision.Reason, "SiteB")

	// Другой IBAN
	decision, err = d.Evaluate(ctx, investment("SiteA", "alice", "TR02", now))
	require.NoError(t, err)
	require.False(t, decision.Suspicious)

	// Чуть позже окно закрывается
	later := NewDetectorWithClock(s, func() time.Time { return now.Add(time.Second) })
	decision, err = later.Evaluate(ctx, investment("SiteA", "alice", "TR01", now))
	require.NoError(t, err)
	require.False(t, decision.Suspicious)
}

func TestDetectorIgnoresDecidedRequests(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	d := NewDetectorWithClock(s, func() time.Time { return now })

	other, err := s.RequestPost(ctx, investment("SiteB", "alice", "TR01", now))
	require.NoError(t, err)
	_, err = s.RequestPutStatus(ctx, other.ID, model.StatusRejected, "op")
	require.NoError(t, err)

	decision, err := d.Evaluate(ctx, investment("SiteA", "alice", "TR01", now))
	require.NoError(t, err)
	require.Equal(t, Decision{}, decision)
}

func TestDetectorComparesIBANVerbatim(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	now := time.Now()
	d := NewDetectorWithClock(s, func() time.Time { return now })

	_, err := s.RequestPost(ctx, investment("SiteA", "alice", "tr99 x", now))
	require.NoError(t, err)

	// Тот же IBAN в другом регистре и без пробела считается другим
	decision, err := d.Evaluate(ctx, investment("SiteB", "alice", "TR99X", now))
	require.NoError(t, err)
	require.Equal(t, Decision{}, decision)

	decision, err = d.Evaluate(ctx, investment("SiteB", "alice", "tr99 x", now))
	require.NoError(t, err)
	require.True(t, decision.Suspicious)
}
