package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/capacity"
	"github.com/iurnickita/esbo/internal/locks"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/notify"
	"github.com/iurnickita/esbo/internal/service/callbackclient"
	"github.com/iurnickita/esbo/internal/service/config"
	"github.com/iurnickita/esbo/internal/store"
)

type events struct {
	notify.Nop
	mu       sync.Mutex
	created  []model.PaymentRequest
	decided  []model.StatusUpdate
	locks    []string
	limits   []string
	warnings []string
}

func (e *events) RequestCreated(_ context.Context, req model.PaymentRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, req)
}

func (e *events) RequestDecided(_ context.Context, update model.StatusUpdate, _ model.PaymentRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decided = append(e.decided, update)
}

func (e *events) BankLockChanged(_ context.Context, id string, locked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if locked {
		e.locks = append(e.locks, id+":locked")
	} else {
		e.locks = append(e.locks, id+":unlocked")
	}
}

func (e *events) BankLimitReached(_ context.Context, bank model.InvestmentBank, site string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = append(e.limits, bank.Data.Name)
}

func (e *events) BankLimitWarning(_ context.Context, bank model.InvestmentBank, req model.PaymentRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, bank.Data.Name)
}

type fakeCallback struct {
	mu      sync.Mutex
	updates []callbackclient.BalanceUpdate
	err     error
}

func (f *fakeCallback) SendBalanceUpdate(_ context.Context, _ model.Site, update callbackclient.BalanceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return f.err
}

func (f *fakeCallback) sent() []callbackclient.BalanceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]callbackclient.BalanceUpdate(nil), f.updates...)
}

type fixture struct {
	svc      Service
	store    store.Store
	tracker  capacity.Tracker
	events   *events
	callback *fakeCallback
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemStore()
	require.NoError(t, s.SitePost(ctx, model.Site{ID: "s1", Data: model.SiteData{
		Name:           "SiteA",
		CallbackURL:    "http://site-a.test/balance",
		CallbackAPIKey: "cb-key",
		APIKey:         "key-a",
	}}))
	require.NoError(t, s.SitePost(ctx, model.Site{ID: "s2", Data: model.SiteData{Name: "SiteB", APIKey: "key-b"}}))
	require.NoError(t, s.BankPost(ctx, model.InvestmentBank{ID: "b1", Data: model.InvestmentBankData{
		Name:          "Ziraat",
		IBAN:          "TR01",
		AccountHolder: "Holder",
		MinAmount:     decimal.NewFromInt(10),
		MaxAmount:     decimal.NewFromInt(1000),
		MaxCount:      2,
	}}))
	require.NoError(t, s.MethodPost(ctx, model.WithdrawalMethod{ID: "m1", Data: model.WithdrawalMethodData{
		Name: "Papara",
		Fields: []model.FieldDescriptor{
			{Label: "Hesap No", Kind: model.FieldKindText},
		},
	}}))
	require.NoError(t, s.MethodPost(ctx, model.WithdrawalMethod{ID: "m2", Data: model.WithdrawalMethodData{
		Name: "Kart",
		Fields: []model.FieldDescriptor{
			{Label: "Kart No", Kind: model.FieldKindCard},
		},
	}}))

	ev := &events{}
	tr := capacity.NewTracker(locks.NewMemLocks(), s, ev, nil, zap.NewNop())
	svc := NewService(config.Config{CallbackTimeout: time.Second}, s, tr, ev, nil, zap.NewNop())
	cb := &fakeCallback{}
	svc.(*service).callback = cb

	return fixture{svc: svc, store: s, tracker: tr, events: ev, callback: cb}
}

func investmentDraft(site, username, iban string, amount int64) model.PaymentRequest {
	return model.PaymentRequest{
		Kind: model.KindInvestment,
		Data: model.PaymentRequestData{
			Site:          site,
			Username:      username,
			FullName:      "Ali Veli",
			Amount:        decimal.NewFromInt(amount),
			BankName:      "Ziraat",
			IBAN:          iban,
			AccountHolder: "Holder",
			IPAddress:     "10.0.0.1",
		},
	}
}

func withdrawalDraft(site, username, method string, amount int64, details ...model.DetailField) model.PaymentRequest {
	return model.PaymentRequest{
		Kind: model.KindWithdrawal,
		Data: model.PaymentRequestData{
			Site:       site,
			Username:   username,
			FullName:   "Ali Veli",
			Amount:     decimal.NewFromInt(amount),
			MethodName: method,
			Details:    details,
		},
	}
}

func TestSubmitInvestment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, investmentDraft(" SiteA ", "alice", " tr 01 ", 100))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(req.ID, "req-"))
	require.Equal(t, model.StatusPending, req.Data.Status)
	require.Equal(t, "SiteA", req.Data.Site)
	require.Equal(t, "tr 01", req.Data.IBAN)
	require.False(t, req.Data.Suspicious)
	require.Len(t, f.events.created, 1)

	_, err = f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "TR01", 200))
	require.ErrorIs(t, err, ErrDuplicatePending)
	require.Len(t, f.events.created, 1)

	// Другой вид заявки не считается дублем
	wd, err := f.svc.Submit(ctx, withdrawalDraft("SiteA", "alice", "Papara", 50,
		model.DetailField{Label: "Hesap No", Value: "123"}))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(wd.ID, "wreq-"))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft model.PaymentRequest
	}{
		{name: "placeholder username", draft: investmentDraft("SiteA", "Bilinmiyor", "TR01", 100)},
		{name: "empty site", draft: investmentDraft("", "alice", "TR01", 100)},
		{name: "zero amount", draft: investmentDraft("SiteA", "alice", "TR01", 0)},
		{name: "below bank minimum", draft: investmentDraft("SiteA", "alice", "TR01", 5)},
		{name: "missing iban", draft: investmentDraft("SiteA", "alice", " ", 100)},
		{name: "missing method", draft: withdrawalDraft("SiteA", "alice", "", 100)},
		{name: "missing field", draft: withdrawalDraft("SiteA", "alice", "Papara", 100)},
		{name: "bad card", draft: withdrawalDraft("SiteA", "alice", "Kart", 100,
			model.DetailField{Label: "Kart No", Value: "4111 1111 1111 1112"})},
		{name: "amount with three decimals", draft: func() model.PaymentRequest {
			draft := investmentDraft("SiteA", "alice", "TR01", 0)
			draft.Data.Amount = decimal.RequireFromString("100.005")
			return draft
		}()},
		{name: "unknown kind", draft: model.PaymentRequest{Kind: "refund", Data: model.PaymentRequestData{
			Site: "SiteA", Username: "alice", FullName: "Ali", Amount: decimal.NewFromInt(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.draft)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	placeholder := investmentDraft("SiteA", "alice", "TR01", 100)
	placeholder.Data.FullName = "Bilinmiyor"
	_, err := f.svc.Submit(ctx, placeholder)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Submit(ctx, withdrawalDraft("SiteA", "alice", "Kart", 100,
		model.DetailField{Label: "Kart No", Value: "4111 1111 1111 1111"}))
	require.NoError(t, err)
	require.Empty(t, f.events.decided)

	// Лишние нули в дробной части не считаются знаками
	padded := investmentDraft("SiteB", "alice", "TR01", 0)
	padded.Data.Amount = decimal.RequireFromString("100.500")
	_, err = f.svc.Submit(ctx, padded)
	require.NoError(t, err)
}

func TestValidCardNumber(t *testing.T) {
	tests := []struct {
		number string
		valid  bool
	}{
		{number: "4111 1111 1111 1111", valid: true},
		{number: "4111-1111-1111-1112", valid: false},
		{number: "9223 3720 3685 4775 809", valid: true},
		{number: "9223 3720 3685 4775 808", valid: false},
		{number: "4111 1111 1111 1111 110", valid: true},
		{number: "+411111111111", valid: false},
		{number: "4111 1111 111", valid: false},
		{number: "4111 1111 1111 1111 1111", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			require.Equal(t, tt.valid, validCardNumber(tt.number))
		})
	}
}

func TestSubmitKeepsIBANAsEntered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "tr99 x", 100))
	require.NoError(t, err)

	// Совпадение с точностью до регистра не подозрительно
	req, err := f.svc.Submit(ctx, investmentDraft("SiteB", "alice", "TR99X", 100))
	require.NoError(t, err)
	require.Equal(t, "TR99X", req.Data.IBAN)
	require.False(t, req.Data.Suspicious)

	// Лимиты банка считаются по ключу IBAN
	first, err := f.svc.Submit(ctx, investmentDraft("SiteA", "bob", "tr 01", 400))
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, first.ID, model.StatusApproved, "op1", model.OriginWeb)
	require.NoError(t, err)
	require.False(t, f.tracker.IsLocked(ctx, "b1"))

	second, err := f.svc.Submit(ctx, investmentDraft("SiteA", "carol", "TR01", 600))
	require.NoError(t, err)
	require.Equal(t, []string{"Ziraat"}, f.events.warnings)
	_, err = f.svc.Decide(ctx, second.ID, model.StatusApproved, "op1", model.OriginWeb)
	require.NoError(t, err)
	require.True(t, f.tracker.IsLocked(ctx, "b1"))
	f.svc.Close()
}

func TestSubmitSuspicious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, investmentDraft("SiteB", "bob", "TR01", 100))
	require.NoError(t, err)

	req, err := f.svc.Submit(ctx, investmentDraft("SiteA", "bob", "TR01", 100))
	require.NoError(t, err)
	require.True(t, req.Data.Suspicious)
	require.Equal(t, "Bu kullanıcı, son 5 dakika içinde 'SiteB' sitesinden aynı IBAN'a talep oluşturdu.",
		req.Data.SuspicionReason)
}

func TestSubmitLimitWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, investmentDraft("SiteA", "u1", "TR01", 900))
	require.NoError(t, err)
	require.Empty(t, f.events.warnings)

	req, err := f.svc.Submit(ctx, investmentDraft("SiteA", "u1", "TR01", 900))
	require.ErrorIs(t, err, ErrDuplicatePending)
	require.Empty(t, req.ID)

	_, err = f.svc.Submit(ctx, investmentDraft("SiteA", "u2", "TR01", 1000))
	require.NoError(t, err)
	require.Equal(t, []string{"Ziraat"}, f.events.warnings)
}

func TestDecideApproveInvestment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "TR01", 1000))
	require.NoError(t, err)

	decided, err := f.svc.Decide(ctx, req.ID, model.StatusApproved, "op1", model.OriginWeb)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, decided.Data.Status)
	require.Equal(t, "op1", decided.Data.Operator)

	f.svc.Close()
	require.Equal(t, []callbackclient.BalanceUpdate{{
		Username:        "alice",
		Amount:          "1000",
		TransactionType: callbackclient.TransactionDeposit,
		TransactionID:   req.ID,
	}}, f.callback.sent())

	// Лимит суммы достигнут: банк заблокирован, уведомления разосланы один раз
	require.True(t, f.tracker.IsLocked(ctx, "b1"))
	require.Equal(t, []string{"b1:locked"}, f.events.locks)
	require.Equal(t, []string{"Ziraat"}, f.events.limits)
	require.Equal(t, []model.StatusUpdate{{
		Kind:      model.KindInvestment,
		RequestID: req.ID,
		NewStatus: model.StatusApproved,
		Operator:  "op1",
		Origin:    model.OriginWeb,
	}}, f.events.decided)
}

func TestDecideRejectWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, withdrawalDraft("SiteA", "alice", "Papara", 50,
		model.DetailField{Label: "Hesap No", Value: "123"}))
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, req.ID, model.StatusRejected, "op1", model.OriginChat)
	require.NoError(t, err)
	f.svc.Close()
	require.Empty(t, f.callback.sent())
	require.Len(t, f.events.decided, 1)

	// После решения можно снова подать заявку
	_, err = f.svc.Submit(ctx, withdrawalDraft("SiteA", "alice", "Papara", 50,
		model.DetailField{Label: "Hesap No", Value: "123"}))
	require.NoError(t, err)
}

func TestDecideApproveWithdrawalCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.callback.err = errors.New("site unavailable")

	req, err := f.svc.Submit(ctx, withdrawalDraft("SiteA", "alice", "Papara", 75,
		model.DetailField{Label: "Hesap No", Value: "123"}))
	require.NoError(t, err)

	// Ошибка колбэка не отменяет решение
	decided, err := f.svc.Decide(ctx, req.ID, model.StatusApproved, "op1", model.OriginWeb)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, decided.Data.Status)

	require.Eventually(t, func() bool {
		sent := f.callback.sent()
		return len(sent) == 1 && sent[0].TransactionType == callbackclient.TransactionWithdrawal
	}, time.Second, 10*time.Millisecond)
}

func TestDecideSiteWithoutCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, investmentDraft("SiteB", "alice", "TR01", 100))
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, req.ID, model.StatusApproved, "op1", model.OriginWeb)
	require.NoError(t, err)
	f.svc.Close()
	require.Empty(t, f.callback.sent())
}

func TestDecideAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "TR01", 100))
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, req.ID, model.StatusRejected, "op1", model.OriginChat)
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, req.ID, model.StatusApproved, "op2", model.OriginWeb)
	require.ErrorIs(t, err, ErrAlreadyDecided)
	var decidedErr *AlreadyDecidedError
	require.ErrorAs(t, err, &decidedErr)
	require.Equal(t, model.StatusRejected, decidedErr.Status)
	require.Equal(t, "op1", decidedErr.Operator)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, got.Data.Status)
	require.Equal(t, "op1", got.Data.Operator)
	require.Len(t, f.events.decided, 1)
}

func TestDecideErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Decide(ctx, "req-missing", model.StatusApproved, "op1", model.OriginWeb)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Decide(ctx, "req-missing", model.StatusPending, "op1", model.OriginWeb)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Decide(ctx, "req-missing", model.StatusApproved, "", model.OriginWeb)
	require.ErrorIs(t, err, ErrValidation)
}

func TestDecideRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "TR01", 100))
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := model.StatusApproved
			origin := model.OriginWeb
			if i%2 == 1 {
				decision = model.StatusRejected
				origin = model.OriginChat
			}
			_, err := f.svc.Decide(ctx, req.ID, decision, "op", origin)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyDecided):
				conflicts.Add(1)
			}
		}(i)
	}
	wg.Wait()
	f.svc.Close()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, 7, conflicts.Load())
	require.Len(t, f.events.decided, 1)
	require.LessOrEqual(t, len(f.callback.sent()), 1)
}

func TestUpdateBankDetailsUnlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetLock(ctx, "b1", true))
	banks, err := f.svc.InvestmentBanks(ctx)
	require.NoError(t, err)
	require.Len(t, banks, 1)
	require.True(t, banks[0].Locked)

	bank, err := f.svc.UpdateBankDetails(ctx, "b1", " Yeni Sahip ", "tr 99 0001")
	require.NoError(t, err)
	require.Equal(t, "Yeni Sahip", bank.Data.AccountHolder)
	require.Equal(t, "TR990001", bank.Data.IBAN)
	require.False(t, f.tracker.IsLocked(ctx, "b1"))
	require.Equal(t, []string{"b1:locked", "b1:unlocked"}, f.events.locks)

	_, err = f.svc.UpdateBankDetails(ctx, "missing", "X", "TR1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.UpdateBankDetails(ctx, "b1", "", "TR1")
	require.ErrorIs(t, err, ErrValidation)
}

func TestPendingStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, investmentDraft("SiteA", "alice", "TR01", 100))
	require.NoError(t, err)

	investment, withdrawal, err := f.svc.PendingStatus(ctx, "SiteA", "alice")
	require.NoError(t, err)
	require.True(t, investment)
	require.False(t, withdrawal)

	investment, _, err = f.svc.PendingStatus(ctx, "SiteB", "alice")
	require.NoError(t, err)
	require.False(t, investment)
}

func TestSiteLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	site, err := f.svc.SiteByAPIKey(ctx, "key-a")
	require.NoError(t, err)
	require.Equal(t, "SiteA", site.Data.Name)

	_, err = f.svc.SiteByAPIKey(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	site, err = f.svc.SiteByID(ctx, "s2")
	require.NoError(t, err)
	require.Equal(t, "SiteB", site.Data.Name)
}
