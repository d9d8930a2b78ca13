package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/capacity"
	"github.com/iurnickita/esbo/internal/detector"
	"github.com/iurnickita/esbo/internal/metrics"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/notify"
	"github.com/iurnickita/esbo/internal/service/callbackclient"
	"github.com/iurnickita/esbo/internal/service/config"
	"github.com/iurnickita/esbo/internal/store"
)

type Service interface {
	Submit(ctx context.Context, req model.PaymentRequest) (model.PaymentRequest, error)
	Decide(ctx context.Context, id string, decision model.RequestStatus, operator string, origin model.Origin) (model.PaymentRequest, error)
	GetRequest(ctx context.Context, id string) (model.PaymentRequest, error)
	ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.PaymentRequest, error)
	PendingStatus(ctx context.Context, site string, username string) (investment bool, withdrawal bool, err error)

	InvestmentBanks(ctx context.Context) ([]BankState, error)
	WithdrawalMethods(ctx context.Context) ([]MethodState, error)
	SetLock(ctx context.Context, id string, locked bool) error
	UpdateBankDetails(ctx context.Context, id string, holder string, iban string) (model.InvestmentBank, error)

	SiteByAPIKey(ctx context.Context, apiKey string) (model.Site, error)
	SiteByID(ctx context.Context, id string) (model.Site, error)
	SiteByName(ctx context.Context, name string) (model.Site, error)
	Sites(ctx context.Context) ([]model.Site, error)

	// Close дожидается отправки начатых уведомлений о балансе
	Close()
}

var (
	ErrValidation       = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePending = errors.New("pending request already exists")
	ErrAlreadyDecided   = errors.New("request already processed")
)

// AlreadyDecidedError - решение опоздало: заявку уже закрыл другой оператор или канал
type AlreadyDecidedError struct {
	Status   model.RequestStatus
	Operator string
}

func (e *AlreadyDecidedError) Error() string {
	if e.Operator == "" {
		return ErrAlreadyDecided.Error()
	}
	return "already processed by " + e.Operator
}

func (e *AlreadyDecidedError) Is(target error) bool {
	return target == ErrAlreadyDecided
}

// Значение-заглушка, которое подставляют сайты при отсутствии данных клиента
const unknownCustomer = "Bilinmiyor"

type BankState struct {
	Bank   model.InvestmentBank
	Locked bool
}

type MethodState struct {
	Method model.WithdrawalMethod
	Locked bool
}

type service struct {
	cfg      config.Config
	store    store.Store
	detector detector.Detector
	tracker  capacity.Tracker
	notifier notify.Notifier
	callback callbackclient.CallbackClient
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

func NewService(cfg config.Config, store store.Store, tracker capacity.Tracker, notifier notify.Notifier,
	m *metrics.Metrics, zaplog *zap.Logger) Service {
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 10 * time.Second
	}
	return &service{
		cfg:      cfg,
		store:    store,
		detector: detector.NewDetector(store),
		tracker:  tracker,
		notifier: notifier,
		callback: callbackclient.NewCallbackClient(cfg.CallbackTimeout),
		metrics:  m,
		zaplog:   zaplog.Named("service"),
		now:      time.Now,
	}
}

func (service *service) Submit(ctx context.Context, req model.PaymentRequest) (model.PaymentRequest, error) {
	req.Data.Site = strings.TrimSpace(req.Data.Site)
	req.Data.Username = strings.TrimSpace(req.Data.Username)
	req.Data.FullName = strings.TrimSpace(req.Data.FullName)

	if err := service.validate(ctx, req); err != nil {
		return model.PaymentRequest{}, err
	}

	var newReq model.PaymentRequest
	newReq.Kind = req.Kind
	newReq.Data = req.Data
	newReq.Data.Status = model.StatusPending
	newReq.Data.Operator = ""
	newReq.Data.CreatedAt = service.now().UTC()
	switch req.Kind {
	case model.KindInvestment:
		newReq.ID = "req-" + uuid.NewString()
		newReq.Data.IBAN = strings.TrimSpace(req.Data.IBAN)
		newReq.Data.MethodName = ""
		newReq.Data.Details = nil
	case model.KindWithdrawal:
		newReq.ID = "wreq-" + uuid.NewString()
		newReq.Data.BankName = ""
		newReq.Data.IBAN = ""
		newReq.Data.AccountHolder = ""
	}

	decision, err := service.detector.Evaluate(ctx, newReq)
	if err != nil {
		return model.PaymentRequest{}, err
	}
	if decision.Reject {
		return model.PaymentRequest{}, ErrDuplicatePending
	}
	newReq.Data.Suspicious = decision.Suspicious
	newReq.Data.SuspicionReason = decision.Reason

	// Проверка детектора не атомарна, окончательно дубль отсекает хранилище
	stored, err := service.store.RequestPost(ctx, newReq)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.PaymentRequest{}, ErrDuplicatePending
		}
		return model.PaymentRequest{}, err
	}

	service.zaplog.Info("request submitted",
		zap.String("id", stored.ID),
		zap.String("type", string(stored.Kind)),
		zap.String("site", stored.Data.Site),
		zap.String("username", stored.Data.Username),
		zap.String("amount", stored.Data.Amount.String()),
		zap.Bool("suspicious", stored.Data.Suspicious),
	)
	service.metrics.Submitted(string(stored.Kind))
	service.notifier.RequestCreated(ctx, stored)

	if stored.Kind == model.KindInvestment {
		service.warnIfLimitNear(ctx, stored)
	}

	return stored, nil
}

func (service *service) validate(ctx context.Context, req model.PaymentRequest) error {
	if req.Data.Site == "" {
		return fmt.Errorf("%w: site is required", ErrValidation)
	}
	if req.Data.Username == "" || req.Data.Username == unknownCustomer ||
		req.Data.FullName == "" || req.Data.FullName == unknownCustomer {
		return fmt.Errorf("%w: customer info is missing", ErrValidation)
	}
	if !req.Data.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !req.Data.Amount.Equal(req.Data.Amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than 2 decimals", ErrValidation)
	}

	switch req.Kind {
	case model.KindInvestment:
		if model.IBANKey(req.Data.IBAN) == "" {
			return fmt.Errorf("%w: iban is required", ErrValidation)
		}
		bank, err := service.store.BankGetByIBAN(ctx, model.IBANKey(req.Data.IBAN))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if bank.Data.MinAmount.IsPositive() && req.Data.Amount.LessThan(bank.Data.MinAmount) {
			return fmt.Errorf("%w: amount is below the bank minimum %s", ErrValidation, bank.Data.MinAmount.String())
		}
	case model.KindWithdrawal:
		if req.Data.MethodName == "" {
			return fmt.Errorf("%w: withdrawal method is required", ErrValidation)
		}
		method, err := service.store.MethodGetByName(ctx, req.Data.MethodName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		return validateDetails(method, req.Data.Details)
	default:
		return fmt.Errorf("%w: unknown request type %q", ErrValidation, req.Kind)
	}
	return nil
}

// validateDetails проверяет, что клиент заполнил все поля метода вывода
func validateDetails(method model.WithdrawalMethod, details []model.DetailField) error {
	values := make(map[string]string, len(details))
	for _, d := range details {
		values[d.Label] = strings.TrimSpace(d.Value)
	}
	for _, field := range method.Data.Fields {
		value := values[field.Label]
		if value == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, field.Label)
		}
		if field.Kind == model.FieldKindCard && !validCardNumber(value) {
			return fmt.Errorf("%w: %s is not a valid card number", ErrValidation, field.Label)
		}
	}
	return nil
}

func validCardNumber(value string) bool {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(value)
	if len(digits) < 12 || len(digits) > 19 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}

	// 19-значный номер не помещается в int. Старшая цифра стоит на неудваиваемой
	// позиции, поэтому ее вклад в сумму переносится в контрольную цифру
	lead := 0
	if len(digits) == 19 {
		lead = int(digits[0] - '0')
		digits = digits[1:]
	}
	number, err := strconv.Atoi(digits)
	if err != nil {
		return false
	}
	check := number % 10
	number += (check+lead)%10 - check
	return luhn.Valid(number)
}

// warnIfLimitNear предупреждает чат, если одобрение заявки заполнит лимит банка
func (service *service) warnIfLimitNear(ctx context.Context, req model.PaymentRequest) {
	bank, reach, err := service.tracker.WouldReachLimit(ctx, req.Data.IBAN, req.Data.Amount)
	if err != nil {
		service.zaplog.Warn("limit forecast failed", zap.String("id", req.ID), zap.Error(err))
		return
	}
	if reach {
		service.notifier.BankLimitWarning(ctx, bank, req)
	}
}

func (service *service) Decide(ctx context.Context, id string, decision model.RequestStatus, operator string, origin model.Origin) (model.PaymentRequest, error) {
	if !decision.Terminal() {
		return model.PaymentRequest{}, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}
	if operator == "" {
		return model.PaymentRequest{}, fmt.Errorf("%w: operator is required", ErrValidation)
	}

	// Единственная точка сериализации решений - условное обновление в хранилище
	req, err := service.store.RequestPutStatus(ctx, id, decision, operator)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return model.PaymentRequest{}, ErrNotFound
		case errors.Is(err, store.ErrInvalidTransition):
			service.metrics.DecisionConflict(string(origin))
			service.zaplog.Info("decision lost the race",
				zap.String("id", id),
				zap.String("origin", string(origin)),
				zap.String("operator", operator),
				zap.String("decidedBy", req.Data.Operator),
			)
			return model.PaymentRequest{}, &AlreadyDecidedError{Status: req.Data.Status, Operator: req.Data.Operator}
		default:
			return model.PaymentRequest{}, err
		}
	}

	service.zaplog.Info("request decided",
		zap.String("id", req.ID),
		zap.String("type", string(req.Kind)),
		zap.String("status", string(req.Data.Status)),
		zap.String("operator", operator),
		zap.String("origin", string(origin)),
	)
	service.metrics.Decided(string(req.Kind), string(req.Data.Status), string(origin))

	if decision == model.StatusApproved {
		if req.Kind == model.KindInvestment {
			if _, err := service.tracker.EvaluateAndLock(ctx, req); err != nil {
				service.zaplog.Error("bank limit check failed", zap.String("id", req.ID), zap.Error(err))
			}
		}
		service.inflight.Add(1)
		go service.balanceCallback(req)
	}

	service.notifier.RequestDecided(ctx, model.StatusUpdate{
		Kind:      req.Kind,
		RequestID: req.ID,
		NewStatus: req.Data.Status,
		Operator:  operator,
		Origin:    origin,
	}, req)

	return req, nil
}

// balanceCallback сообщает сайту об изменении баланса клиента.
// Ошибки только логируются: решение по заявке уже сохранено.
func (service *service) balanceCallback(req model.PaymentRequest) {
	defer service.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), service.cfg.CallbackTimeout)
	defer cancel()

	site, err := service.store.SiteGetByName(ctx, req.Data.Site)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			service.zaplog.Warn("balance callback skipped: unknown site", zap.String("site", req.Data.Site))
			return
		}
		service.metrics.CallbackFailed()
		service.zaplog.Error("balance callback site lookup failed", zap.String("site", req.Data.Site), zap.Error(err))
		return
	}
	if site.Data.CallbackURL == "" {
		service.zaplog.Info("balance callback skipped: no callback url", zap.String("site", site.Data.Name))
		return
	}

	update := callbackclient.NewBalanceUpdate(req)
	if err := service.callback.SendBalanceUpdate(ctx, site, update); err != nil {
		service.metrics.CallbackFailed()
		service.zaplog.Error("balance callback failed",
			zap.String("site", site.Data.Name),
			zap.String("id", req.ID),
			zap.String("username", req.Data.Username),
			zap.Error(err),
		)
		return
	}
	service.zaplog.Info("balance callback delivered",
		zap.String("site", site.Data.Name),
		zap.String("id", req.ID),
		zap.String("transactionType", update.TransactionType),
	)
}

func (service *service) GetRequest(ctx context.Context, id string) (model.PaymentRequest, error) {
	req, err := service.store.RequestGet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.PaymentRequest{}, ErrNotFound
	}
	return req, err
}

func (service *service) ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.PaymentRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return service.store.RequestList(ctx, filter)
}

func (service *service) PendingStatus(ctx context.Context, site string, username string) (bool, bool, error) {
	hasPending := func(kind model.RequestKind) (bool, error) {
		_, err := service.store.RequestGetPending(ctx, kind, username, site)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	investment, err := hasPending(model.KindInvestment)
	if err != nil {
		return false, false, err
	}
	withdrawal, err := hasPending(model.KindWithdrawal)
	if err != nil {
		return false, false, err
	}
	return investment, withdrawal, nil
}

func (service *service) InvestmentBanks(ctx context.Context) ([]BankState, error) {
	banks, err := service.store.BankList(ctx)
	if err != nil {
		return nil, err
	}
	locked := service.tracker.Locked(ctx)
	states := make([]BankState, 0, len(banks))
	for _, bank := range banks {
		_, isLocked := locked[bank.ID]
		states = append(states, BankState{Bank: bank, Locked: isLocked})
	}
	return states, nil
}

func (service *service) WithdrawalMethods(ctx context.Context) ([]MethodState, error) {
	methods, err := service.store.MethodList(ctx)
	if err != nil {
		return nil, err
	}
	locked := service.tracker.Locked(ctx)
	states := make([]MethodState, 0, len(methods))
	for _, method := range methods {
		_, isLocked := locked[method.ID]
		states = append(states, MethodState{Method: method, Locked: isLocked})
	}
	return states, nil
}

func (service *service) SetLock(ctx context.Context, id string, locked bool) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	return service.tracker.SetManualLock(ctx, id, locked)
}

// UpdateBankDetails меняет владельца и IBAN банка и снимает с него блокировку
func (service *service) UpdateBankDetails(ctx context.Context, id string, holder string, iban string) (model.InvestmentBank, error) {
	holder = strings.TrimSpace(holder)
	iban = model.IBANKey(iban)
	if holder == "" || iban == "" {
		return model.InvestmentBank{}, fmt.Errorf("%w: account holder and iban are required", ErrValidation)
	}

	bank, err := service.store.BankPutDetails(ctx, id, holder, iban)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return model.InvestmentBank{}, ErrNotFound
		case errors.Is(err, store.ErrConflict):
			return model.InvestmentBank{}, fmt.Errorf("%w: iban %s is used by another bank", ErrValidation, iban)
		default:
			return model.InvestmentBank{}, err
		}
	}

	service.zaplog.Info("bank details updated", zap.String("bankId", id), zap.String("bank", bank.Data.Name))
	if err := service.tracker.SetManualLock(ctx, id, false); err != nil {
		return bank, err
	}
	return bank, nil
}

func (service *service) SiteByAPIKey(ctx context.Context, apiKey string) (model.Site, error) {
	site, err := service.store.SiteGetByAPIKey(ctx, apiKey)
	if errors.Is(err, store.ErrNotFound) {
		return model.Site{}, ErrNotFound
	}
	return site, err
}

func (service *service) SiteByID(ctx context.Context, id string) (model.Site, error) {
	site, err := service.store.SiteGet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Site{}, ErrNotFound
	}
	return site, err
}

func (service *service) SiteByName(ctx context.Context, name string) (model.Site, error) {
	site, err := service.store.SiteGetByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return model.Site{}, ErrNotFound
	}
	return site, err
}

func (service *service) Sites(ctx context.Context) ([]model.Site, error) {
	return service.store.SiteList(ctx)
}

func (service *service) Close() {
	service.inflight.Wait()
}
