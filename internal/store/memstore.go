package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/shopspring/decimal"
)

// memStore - хранилище в памяти процесса.
// Все проверки и изменения выполняются под одной блокировкой,
// поэтому уникальность ожидающей заявки и смена статуса атомарны.
type memStore struct {
	mu       sync.RWMutex
	requests map[string]model.PaymentRequest
	pending  map[pendingKey]string
	sites    map[string]model.Site
	banks    map[string]model.InvestmentBank
	methods  map[string]model.WithdrawalMethod
}

type pendingKey struct {
	kind     model.RequestKind
	site     string
	username string
}

func NewMemStore() Store {
	return &memStore{
		requests: make(map[string]model.PaymentRequest),
		pending:  make(map[pendingKey]string),
		sites:    make(map[string]model.Site),
		banks:    make(map[string]model.InvestmentBank),
		methods:  make(map[string]model.WithdrawalMethod),
	}
}

func (store *memStore) RequestPost(_ context.Context, req model.PaymentRequest) (model.PaymentRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.requests[req.ID]; ok {
		return model.PaymentRequest{}, ErrConflict
	}
	key := pendingKey{kind: req.Kind, site: model.SiteKey(req.Data.Site), username: req.Data.Username}
	if _, ok := store.pending[key]; ok {
		return model.PaymentRequest{}, ErrConflict
	}

	req.Data.Status = model.StatusPending
	req.Data.Operator = ""
	req.Data.Details = cloneDetails(req.Data.Details)
	store.requests[req.ID] = req
	store.pending[key] = req.ID

	return req, nil
}

func (store *memStore) RequestGet(_ context.Context, id string) (model.PaymentRequest, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	req, ok := store.requests[id]
	if !ok {
		return model.PaymentRequest{}, ErrNotFound
	}
	return req, nil
}

func (store *memStore) RequestPutStatus(_ context.Context, id string, status model.RequestStatus, operator string) (model.PaymentRequest, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	req, ok := store.requests[id]
	if !ok {
		return model.PaymentRequest{}, ErrNotFound
	}
	if req.Data.Status != model.StatusPending || !status.Terminal() {
		return req, ErrInvalidTransition
	}

	req.Data.Status = status
	req.Data.Operator = operator
	store.requests[id] = req
	delete(store.pending, pendingKey{kind: req.Kind, site: model.SiteKey(req.Data.Site), username: req.Data.Username})

	return req, nil
}

func (store *memStore) RequestList(_ context.Context, filter model.RequestFilter) ([]model.PaymentRequest, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var list []model.PaymentRequest
	for _, req := range store.requests {
		if filter.Kind != "" && req.Kind != filter.Kind {
			continue
		}
		if !containsFold(req.Data.Site, filter.Site) || !containsFold(req.Data.Username, filter.Username) {
			continue
		}
		bank := req.Data.BankName
		if req.Kind == model.KindWithdrawal {
			bank = req.Data.MethodName
		}
		if !containsFold(bank, filter.Bank) {
			continue
		}
		if filter.Status != "" && req.Data.Status != filter.Status {
			continue
		}
		list = append(list, req)
	}
	sortNewestFirst(list)

	return list, nil
}

func (store *memStore) RequestGetPending(_ context.Context, kind model.RequestKind, username string, site string) (model.PaymentRequest, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	id, ok := store.pending[pendingKey{kind: kind, site: model.SiteKey(site), username: username}]
	if !ok {
		return model.PaymentRequest{}, ErrNotFound
	}
	return store.requests[id], nil
}

func (store *memStore) RequestGetSimilar(_ context.Context, username string, iban string, site string, since time.Time) (model.PaymentRequest, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key := model.SiteKey(site)
	var found []model.PaymentRequest
	for _, req := range store.requests {
		if req.Kind != model.KindInvestment || req.Data.Status != model.StatusPending {
			continue
		}
		if req.Data.Username != username || req.Data.IBAN != iban || model.SiteKey(req.Data.Site) == key {
			continue
		}
		if req.Data.CreatedAt.Before(since) {
			continue
		}
		found = append(found, req)
	}
	if len(found) == 0 {
		return model.PaymentRequest{}, ErrNotFound
	}
	sortNewestFirst(found)

	return found[0], nil
}

func (store *memStore) RequestListApproved(_ context.Context, filter model.ApprovedFilter) ([]model.PaymentRequest, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key := model.SiteKey(filter.Site)
	var list []model.PaymentRequest
	for _, req := range store.requests {
		if req.Data.Status != model.StatusApproved {
			continue
		}
		if filter.Kind != "" && req.Kind != filter.Kind {
			continue
		}
		if key != "" && model.SiteKey(req.Data.Site) != key {
			continue
		}
		if !filter.From.IsZero() && req.Data.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !req.Data.CreatedAt.Before(filter.To) {
			continue
		}
		list = append(list, req)
	}
	sortNewestFirst(list)

	return list, nil
}

func (store *memStore) RequestSumApprovedByIBAN(_ context.Context, iban string) (model.ApprovedStats, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key := model.IBANKey(iban)
	stats := model.ApprovedStats{Total: decimal.Zero}
	for _, req := range store.requests {
		if req.Kind == model.KindInvestment && req.Data.Status == model.StatusApproved && model.IBANKey(req.Data.IBAN) == key {
			stats.Count++
			stats.Total = stats.Total.Add(req.Data.Amount)
		}
	}
	return stats, nil
}

func (store *memStore) SitePost(_ context.Context, site model.Site) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	key := model.SiteKey(site.Data.Name)
	for _, s := range store.sites {
		if s.ID == site.ID || model.SiteKey(s.Data.Name) == key {
			return ErrConflict
		}
		if site.Data.APIKey != "" && s.Data.APIKey == site.Data.APIKey {
			return ErrConflict
		}
	}
	store.sites[site.ID] = site
	return nil
}

func (store *memStore) SiteGet(_ context.Context, id string) (model.Site, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	site, ok := store.sites[id]
	if !ok {
		return model.Site{}, ErrNotFound
	}
	return site, nil
}

func (store *memStore) SiteGetByAPIKey(_ context.Context, apiKey string) (model.Site, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if apiKey == "" {
		return model.Site{}, ErrNotFound
	}
	for _, site := range store.sites {
		if site.Data.APIKey == apiKey {
			return site, nil
		}
	}
	return model.Site{}, ErrNotFound
}

func (store *memStore) SiteGetByName(_ context.Context, name string) (model.Site, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key := model.SiteKey(name)
	for _, site := range store.sites {
		if model.SiteKey(site.Data.Name) == key {
			return site, nil
		}
	}
	return model.Site{}, ErrNotFound
}

func (store *memStore) SiteList(_ context.Context) ([]model.Site, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	list := make([]model.Site, 0, len(store.sites))
	for _, site := range store.sites {
		list = append(list, site)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Data.Name < list[j].Data.Name })
	return list, nil
}

func (store *memStore) BankPost(_ context.Context, bank model.InvestmentBank) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, b := range store.banks {
		if b.ID == bank.ID || b.Data.IBAN == bank.Data.IBAN {
			return ErrConflict
		}
	}
	store.banks[bank.ID] = bank
	return nil
}

func (store *memStore) BankGet(_ context.Context, id string) (model.InvestmentBank, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	bank, ok := store.banks[id]
	if !ok {
		return model.InvestmentBank{}, ErrNotFound
	}
	return bank, nil
}

func (store *memStore) BankGetByIBAN(_ context.Context, iban string) (model.InvestmentBank, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key := model.IBANKey(iban)
	for _, bank := range store.banks {
		if model.IBANKey(bank.Data.IBAN) == key {
			return bank, nil
		}
	}
	return model.InvestmentBank{}, ErrNotFound
}

func (store *memStore) BankList(_ context.Context) ([]model.InvestmentBank, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	list := make([]model.InvestmentBank, 0, len(store.banks))
	for _, bank := range store.banks {
		list = append(list, bank)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Data.Name < list[j].Data.Name })
	return list, nil
}

func (store *memStore) BankPutDetails(_ context.Context, id string, holder string, iban string) (model.InvestmentBank, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	bank, ok := store.banks[id]
	if !ok {
		return model.InvestmentBank{}, ErrNotFound
	}
	for _, b := range store.banks {
		if b.ID != id && b.Data.IBAN == iban {
			return model.InvestmentBank{}, ErrConflict
		}
	}
	bank.Data.AccountHolder = holder
	bank.Data.IBAN = iban
	store.banks[id] = bank

	return bank, nil
}

func (store *memStore) MethodPost(_ context.Context, method model.WithdrawalMethod) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.methods[method.ID]; ok {
		return ErrConflict
	}
	store.methods[method.ID] = method
	return nil
}

func (store *memStore) MethodGet(_ context.Context, id string) (model.WithdrawalMethod, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	method, ok := store.methods[id]
	if !ok {
		return model.WithdrawalMethod{}, ErrNotFound
	}
	return method, nil
}

func (store *memStore) MethodGetByName(_ context.Context, name string) (model.WithdrawalMethod, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	for _, method := range store.methods {
		if method.Data.Name == name {
			return method, nil
		}
	}
	return model.WithdrawalMethod{}, ErrNotFound
}

func (store *memStore) MethodList(_ context.Context) ([]model.WithdrawalMethod, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	list := make([]model.WithdrawalMethod, 0, len(store.methods))
	for _, method := range store.methods {
		list = append(list, method)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Data.Name < list[j].Data.Name })
	return list, nil
}

func (store *memStore) Close() error {
	return nil
}

func containsFold(value, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(substr))
}

func sortNewestFirst(list []model.PaymentRequest) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Data.CreatedAt.After(list[j].Data.CreatedAt)
	})
}

func cloneDetails(details []model.DetailField) []model.DetailField {
	if details == nil {
		return nil
	}
	out := make([]model.DetailField, len(details))
	copy(out, details)
	return out
}
