package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Заявки клиентов

type RequestKind string

const (
	KindInvestment RequestKind = "investment"
	KindWithdrawal RequestKind = "withdrawal"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "PENDING"
	StatusApproved RequestStatus = "APPROVED"
	StatusRejected RequestStatus = "REJECTED"
)

// Terminal сообщает, что из статуса больше нет переходов
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s RequestStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

type PaymentRequest struct {
	ID   string
	Kind RequestKind
	Data PaymentRequestData
}
type PaymentRequestData struct {
	Site            string
	Username        string
	FullName        string
	Amount          decimal.Decimal
	CreatedAt       time.Time
	IPAddress       string
	Status          RequestStatus
	Operator        string
	Suspicious      bool
	SuspicionReason string

	// только для инвестиций
	BankName      string
	IBAN          string
	AccountHolder string

	// только для выводов
	MethodName string
	Details    []DetailField
}

// Значение, введенное клиентом для поля метода вывода
type DetailField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type RequestFilter struct {
	Kind     RequestKind
	Site     string
	Username string
	Bank     string // банк для инвестиций, метод для выводов
	Status   RequestStatus
}

type ApprovedFilter struct {
	Kind RequestKind // пусто - оба вида
	Site string      // пусто - все сайты
	From time.Time
	To   time.Time
}

type ApprovedStats struct {
	Count int
	Total decimal.Decimal
}

// Банки и методы вывода

type InvestmentBank struct {
	ID   string
	Data InvestmentBankData
}
type InvestmentBankData struct {
	Name          string
	IBAN          string
	AccountHolder string
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	MaxCount      int
	Logo          string
}

type WithdrawalMethod struct {
	ID   string
	Data WithdrawalMethodData
}
type WithdrawalMethodData struct {
	Name   string
	Fields []FieldDescriptor
	Logo   string
}

const (
	FieldKindText = "text"
	FieldKindCard = "card"
)

type FieldDescriptor struct {
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Kind        string `json:"type"`
}

// Партнерские сайты

type Site struct {
	ID   string
	Data SiteData
}
type SiteData struct {
	Name                 string
	Logo                 string
	InvestmentCommission decimal.Decimal
	WithdrawalCommission decimal.Decimal
	CallbackURL          string
	CallbackAPIKey       string
	TelegramToken        string
	TelegramChatID       int64
	APIKey               string
}

// SiteKey приводит название сайта к ключу сравнения.
// Название - свободный текст, поэтому регистр и пробелы по краям не учитываются.
func SiteKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IBANKey приводит IBAN к ключу поиска банка и подсчета лимитов.
// Сама заявка хранит IBAN в том виде, в каком его ввел клиент.
func IBANKey(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

// Решения операторов

type Origin string

const (
	OriginWeb  Origin = "web"
	OriginChat Origin = "chat"
)

type StatusUpdate struct {
	Kind      RequestKind
	RequestID string
	NewStatus RequestStatus
	Operator  string
	Origin    Origin
}

// Operator - сотрудник панели, от имени которого принимаются решения
type Operator struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}
