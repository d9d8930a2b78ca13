package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// JSON-представления для панели и клиентских страниц

type RequestView struct {
	ID              string          `json:"id"`
	Type            RequestKind     `json:"type"`
	Site            string          `json:"site"`
	Username        string          `json:"username"`
	FullName        string          `json:"fullName"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"createdAt"`
	IPAddress       string          `json:"ipAddress,omitempty"`
	Status          RequestStatus   `json:"status"`
	Operator        *string         `json:"operator"`
	Suspicious      bool            `json:"isSuspicious"`
	SuspicionReason *string         `json:"suspicionReason"`
	BankName        string          `json:"bankName,omitempty"`
	IBAN            string          `json:"iban,omitempty"`
	AccountHolder   string          `json:"accountHolder,omitempty"`
	MethodName      string          `json:"methodName,omitempty"`
	Details         []DetailField   `json:"details,omitempty"`
}

func (r PaymentRequest) View() RequestView {
	v := RequestView{
		ID:            r.ID,
		Type:          r.Kind,
		Site:          r.Data.Site,
		Username:      r.Data.Username,
		FullName:      r.Data.FullName,
		Amount:        r.Data.Amount,
		CreatedAt:     r.Data.CreatedAt,
		IPAddress:     r.Data.IPAddress,
		Status:        r.Data.Status,
		Suspicious:    r.Data.Suspicious,
		BankName:      r.Data.BankName,
		IBAN:          r.Data.IBAN,
		AccountHolder: r.Data.AccountHolder,
		MethodName:    r.Data.MethodName,
		Details:       r.Data.Details,
	}
	if r.Data.Operator != "" {
		op := r.Data.Operator
		v.Operator = &op
	}
	if r.Data.SuspicionReason != "" {
		reason := r.Data.SuspicionReason
		v.SuspicionReason = &reason
	}
	return v
}

type BankView struct {
	ID            string          `json:"id"`
	Name          string          `json:"bankName"`
	IBAN          string          `json:"iban"`
	AccountHolder string          `json:"accountHolder"`
	MinAmount     decimal.Decimal `json:"minAmount"`
	MaxAmount     decimal.Decimal `json:"maxAmount"`
	MaxCount      *int            `json:"maxCount,omitempty"`
	Logo          string          `json:"logo,omitempty"`
	Locked        bool            `json:"isLocked"`
}

// View строит представление банка. Клиентам лимит по количеству операций не показывается.
func (b InvestmentBank) View(locked bool, public bool) BankView {
	v := BankView{
		ID:            b.ID,
		Name:          b.Data.Name,
		IBAN:          b.Data.IBAN,
		AccountHolder: b.Data.AccountHolder,
		MinAmount:     b.Data.MinAmount,
		MaxAmount:     b.Data.MaxAmount,
		Logo:          b.Data.Logo,
		Locked:        locked,
	}
	if !public {
		count := b.Data.MaxCount
		v.MaxCount = &count
	}
	return v
}

type MethodView struct {
	ID     string            `json:"id"`
	Name   string            `json:"bankName"`
	Logo   string            `json:"logo,omitempty"`
	Fields []FieldDescriptor `json:"requiredFields"`
	Locked bool              `json:"isLocked"`
}

func (m WithdrawalMethod) View(locked bool) MethodView {
	fields := m.Data.Fields
	if fields == nil {
		fields = []FieldDescriptor{}
	}
	return MethodView{
		ID:     m.ID,
		Name:   m.Data.Name,
		Logo:   m.Data.Logo,
		Fields: fields,
		Locked: locked,
	}
}

type StatusUpdateView struct {
	Type      RequestKind   `json:"type"`
	RequestID string        `json:"requestId"`
	NewStatus RequestStatus `json:"newStatus"`
	Operator  string        `json:"operator"`
}

func (u StatusUpdate) View() StatusUpdateView {
	return StatusUpdateView{
		Type:      u.Kind,
		RequestID: u.RequestID,
		NewStatus: u.NewStatus,
		Operator:  u.Operator,
	}
}
