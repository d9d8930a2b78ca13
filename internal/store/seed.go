package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/model"
)

type seedSite struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"siteName"`
	Logo                 string          `json:"siteLogo"`
	InvestmentCommission decimal.Decimal `json:"investmentCommission"`
	WithdrawalCommission decimal.Decimal `json:"withdrawalCommission"`
	CallbackURL          string          `json:"callbackUrl"`
	CallbackAPIKey       string          `json:"callbackApiKey"`
	TelegramToken        string          `json:"telegramBotToken"`
	TelegramChatID       int64           `json:"telegramChatId"`
	APIKey               string          `json:"apiKey"`
}

type seedBank struct {
	ID            string          `json:"id"`
	Name          string          `json:"bankName"`
	IBAN          string          `json:"iban"`
	AccountHolder string          `json:"accountHolder"`
	MinAmount     decimal.Decimal `json:"minAmount"`
	MaxAmount     decimal.Decimal `json:"maxAmount"`
	MaxCount      int             `json:"maxCount"`
	Logo          string          `json:"logo"`
}

type seedMethod struct {
	ID     string                  `json:"id"`
	Name   string                  `json:"methodName"`
	Logo   string                  `json:"logo"`
	Fields []model.FieldDescriptor `json:"requiredFields"`
}

type seedFile struct {
	Sites   []seedSite   `json:"sites"`
	Banks   []seedBank   `json:"investmentBanks"`
	Methods []seedMethod `json:"withdrawalMethods"`
}

// Seed добавляет справочники из JSON. Уже существующие записи пропускаются.
func Seed(ctx context.Context, store Store, r io.Reader) (int, error) {
	var file seedFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return 0, err
	}

	added := 0
	apply := func(err error) error {
		switch {
		case err == nil:
			added++
			return nil
		case errors.Is(err, ErrConflict):
			return nil
		default:
			return err
		}
	}

	for _, s := range file.Sites {
		err := store.SitePost(ctx, model.Site{ID: s.ID, Data: model.SiteData{
			Name:                 s.Name,
			Logo:                 s.Logo,
			InvestmentCommission: s.InvestmentCommission,
			WithdrawalCommission: s.WithdrawalCommission,
			CallbackURL:          s.CallbackURL,
			CallbackAPIKey:       s.CallbackAPIKey,
			TelegramToken:        s.TelegramToken,
			TelegramChatID:       s.TelegramChatID,
			APIKey:               s.APIKey,
		}})
		if err := apply(err); err != nil {
			return added, err
		}
	}
	for _, b := range file.Banks {
		err := store.BankPost(ctx, model.InvestmentBank{ID: b.ID, Data: model.InvestmentBankData{
			Name:          b.Name,
			IBAN:          model.IBANKey(b.IBAN),
			AccountHolder: b.AccountHolder,
			MinAmount:     b.MinAmount,
			MaxAmount:     b.MaxAmount,
			MaxCount:      b.MaxCount,
			Logo:          b.Logo,
		}})
		if err := apply(err); err != nil {
			return added, err
		}
	}
	for _, m := range file.Methods {
		err := store.MethodPost(ctx, model.WithdrawalMethod{ID: m.ID, Data: model.WithdrawalMethodData{
			Name:   m.Name,
			Logo:   m.Logo,
			Fields: m.Fields,
		}})
		if err := apply(err); err != nil {
			return added, err
		}
	}
	return added, nil
}
