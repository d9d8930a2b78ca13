package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/auth"
	"github.com/iurnickita/esbo/internal/model"
)

type siteInfoJSONResponse struct {
	Name string `json:"siteName"`
	Logo string `json:"siteLogo"`
}

func (h *handler) GetSiteInfo(w http.ResponseWriter, r *http.Request) {
	site, _ := auth.SiteFromContext(r.Context())
	writeJSON(w, http.StatusOK, siteInfoJSONResponse{Name: site.Data.Name, Logo: site.Data.Logo})
}

type requestStatusJSONResponse struct {
	HasPendingInvestment bool `json:"hasPendingInvestment"`
	HasPendingWithdrawal bool `json:"hasPendingWithdrawal"`
}

func (h *handler) GetRequestStatus(w http.ResponseWriter, r *http.Request) {
	site, _ := auth.SiteFromContext(r.Context())

	investment, withdrawal, err := h.service.PendingStatus(r.Context(), site.Data.Name, r.PathValue("username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestStatusJSONResponse{
		HasPendingInvestment: investment,
		HasPendingWithdrawal: withdrawal,
	})
}

// GetPublicBanks отдает банки без лимита по количеству операций
func (h *handler) GetPublicBanks(w http.ResponseWriter, r *http.Request) {
	h.writeBanks(w, r, true)
}

func (h *handler) GetPublicMethods(w http.ResponseWriter, r *http.Request) {
	h.GetMethods(w, r)
}

type investmentJSONRequest struct {
	Username      string          `json:"username"`
	FullName      string          `json:"fullName"`
	BankName      string          `json:"bankName"`
	IBAN          string          `json:"iban"`
	AccountHolder string          `json:"accountHolder"`
	Amount        decimal.Decimal `json:"amount"`
}

type withdrawalJSONRequest struct {
	Username   string              `json:"username"`
	FullName   string              `json:"fullName"`
	MethodName string              `json:"methodName"`
	Amount     decimal.Decimal     `json:"amount"`
	Details    []model.DetailField `json:"details"`
}

type submitJSONResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func (h *handler) PostInvestment(w http.ResponseWriter, r *http.Request) {
	var body investmentJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	site, _ := auth.SiteFromContext(r.Context())

	req := model.PaymentRequest{
		Kind: model.KindInvestment,
		Data: model.PaymentRequestData{
			Site:          site.Data.Name,
			Username:      body.Username,
			FullName:      body.FullName,
			Amount:        body.Amount,
			IPAddress:     clientIP(r),
			BankName:      body.BankName,
			IBAN:          body.IBAN,
			AccountHolder: body.AccountHolder,
		},
	}
	h.submit(w, r, req)
}

func (h *handler) PostWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawalJSONRequest
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	site, _ := auth.SiteFromContext(r.Context())

	req := model.PaymentRequest{
		Kind: model.KindWithdrawal,
		Data: model.PaymentRequestData{
			Site:       site.Data.Name,
			Username:   body.Username,
			FullName:   body.FullName,
			Amount:     body.Amount,
			IPAddress:  clientIP(r),
			MethodName: body.MethodName,
			Details:    body.Details,
		},
	}
	h.submit(w, r, req)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request, req model.PaymentRequest) {
	stored, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitJSONResponse{Message: "request accepted", RequestID: stored.ID})
}
