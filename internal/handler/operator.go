package handler

import (
	"math/rand/v2"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/auth"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/service"
)

func (h *handler) GetInvestments(w http.ResponseWriter, r *http.Request) {
	h.writeRequests(w, r, model.KindInvestment, r.URL.Query().Get("bank"))
}

func (h *handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	h.writeRequests(w, r, model.KindWithdrawal, r.URL.Query().Get("method"))
}

func (h *handler) writeRequests(w http.ResponseWriter, r *http.Request, kind model.RequestKind, bank string) {
	query := r.URL.Query()
	requests, err := h.service.ListRequests(r.Context(), model.RequestFilter{
		Kind:     kind,
		Site:     query.Get("site"),
		Username: query.Get("username"),
		Bank:     bank,
		Status:   model.RequestStatus(query.Get("status")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]model.RequestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, req.View())
	}
	writeJSON(w, http.StatusOK, views)
}

type statusJSONRequest struct {
	Status model.RequestStatus `json:"status"`
}

func (h *handler) PutInvestmentStatus(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.KindInvestment)
}

func (h *handler) PutWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.KindWithdrawal)
}

func (h *handler) decide(w http.ResponseWriter, r *http.Request, kind model.RequestKind) {
	var body statusJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	id := r.PathValue("id")
	req, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// заявка другого вида по этому адресу не существует
	if req.Kind != kind {
		h.writeError(w, r, service.ErrNotFound)
		return
	}

	operator := r.Header.Get(auth.HeaderOperatorName)
	decided, err := h.service.Decide(r.Context(), id, body.Status, operator, model.OriginWeb)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided.View())
}

type simulateJSONRequest struct {
	SiteName string `json:"siteName"`
}

// PostSimulateInvestment создает тестовую заявку от имени сайта обычным путем подачи
func (h *handler) PostSimulateInvestment(w http.ResponseWriter, r *http.Request) {
	site, ok := h.simulatedSite(w, r)
	if !ok {
		return
	}
	h.simulate(w, r, model.PaymentRequest{
		Kind: model.KindInvestment,
		Data: model.PaymentRequestData{
			Site:          site.Data.Name,
			Username:      "sim_user",
			FullName:      "Simülasyon Kullanıcısı",
			Amount:        decimal.NewFromInt(int64(rand.IntN(1000) + 50)),
			IPAddress:     clientIP(r),
			BankName:      "Simülasyon Bankası",
			IBAN:          "TR000000000000000000000000",
			AccountHolder: "Simülasyon Hesap Sahibi",
		},
	})
}

func (h *handler) PostSimulateWithdrawal(w http.ResponseWriter, r *http.Request) {
	site, ok := h.simulatedSite(w, r)
	if !ok {
		return
	}
	h.simulate(w, r, model.PaymentRequest{
		Kind: model.KindWithdrawal,
		Data: model.PaymentRequestData{
			Site:       site.Data.Name,
			Username:   "sim_user_withdraw",
			FullName:   "Çekim Simülasyon Kullanıcısı",
			Amount:     decimal.NewFromInt(int64(rand.IntN(500) + 50)),
			IPAddress:  clientIP(r),
			MethodName: "Simülasyon Yöntemi",
			Details: []model.DetailField{
				{Label: "Test Alanı 1", Value: "Test Değeri 1"},
				{Label: "Test Alanı 2", Value: "Test Değeri 2"},
			},
		},
	})
}

func (h *handler) simulatedSite(w http.ResponseWriter, r *http.Request) (model.Site, bool) {
	var body simulateJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return model.Site{}, false
	}
	site, err := h.service.SiteByName(r.Context(), body.SiteName)
	if err != nil {
		h.writeError(w, r, err)
		return model.Site{}, false
	}
	return site, true
}

func (h *handler) simulate(w http.ResponseWriter, r *http.Request, req model.PaymentRequest) {
	stored, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored.View())
}

func (h *handler) GetBanks(w http.ResponseWriter, r *http.Request) {
	h.writeBanks(w, r, false)
}

func (h *handler) writeBanks(w http.ResponseWriter, r *http.Request, public bool) {
	banks, err := h.service.InvestmentBanks(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]model.BankView, 0, len(banks))
	for _, state := range banks {
		views = append(views, state.Bank.View(state.Locked, public))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) GetMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.WithdrawalMethods(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]model.MethodView, 0, len(methods))
	for _, state := range methods {
		views = append(views, state.Method.View(state.Locked))
	}
	writeJSON(w, http.StatusOK, views)
}

type lockJSONRequest struct {
	BankID string `json:"bankId"`
	Locked bool   `json:"isLocked"`
}

func (h *handler) PostLock(w http.ResponseWriter, r *http.Request) {
	var body lockJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.SetLock(r.Context(), body.BankID, body.Locked); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type bankDetailsJSONRequest struct {
	AccountHolder string `json:"accountHolder"`
	IBAN          string `json:"iban"`
}

// PutBankDetails меняет реквизиты банка, блокировка по лимиту при этом снимается
func (h *handler) PutBankDetails(w http.ResponseWriter, r *http.Request) {
	var body bankDetailsJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	bank, err := h.service.UpdateBankDetails(r.Context(), r.PathValue("id"), body.AccountHolder, body.IBAN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bank.View(false, false))
}

type siteJSONResponse struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"siteName"`
	Logo                 string          `json:"siteLogo"`
	InvestmentCommission decimal.Decimal `json:"investmentCommission"`
	WithdrawalCommission decimal.Decimal `json:"withdrawalCommission"`
	HasCallback          bool            `json:"hasCallback"`
	HasTelegram          bool            `json:"hasTelegram"`
}

func (h *handler) GetSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.Sites(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]siteJSONResponse, 0, len(sites))
	for _, site := range sites {
		views = append(views, siteJSONResponse{
			ID:                   site.ID,
			Name:                 site.Data.Name,
			Logo:                 site.Data.Logo,
			InvestmentCommission: site.Data.InvestmentCommission,
			WithdrawalCommission: site.Data.WithdrawalCommission,
			HasCallback:          site.Data.CallbackURL != "",
			HasTelegram:          site.Data.TelegramChatID != 0,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
