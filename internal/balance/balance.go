// Package balance считает одобренные объемы и комиссию сайтов для отчетов в чате.
package balance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store"
)

type Period int

const (
	PeriodAll Period = iota
	PeriodToday
	// PeriodBeforeToday - все, что было до сегодняшней полуночи
	PeriodBeforeToday
)

// AllSites - значение site для отчета по всем сайтам
const AllSites = "all"

type Stats struct {
	TotalInvestment decimal.Decimal
	TotalWithdrawal decimal.Decimal
	TotalCommission decimal.Decimal
}

type Balance interface {
	Stats(ctx context.Context, site string, period Period) (Stats, error)
}

type balance struct {
	store store.Store
	now   func() time.Time
}

func NewBalance(store store.Store) Balance {
	return &balance{store: store, now: time.Now}
}

func NewBalanceWithClock(store store.Store, now func() time.Time) Balance {
	return &balance{store: store, now: now}
}

func (balance *balance) Stats(ctx context.Context, site string, period Period) (Stats, error) {
	if site == AllSites {
		site = ""
	}

	filter := model.ApprovedFilter{Site: site}
	now := balance.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case PeriodToday:
		filter.From = midnight
		filter.To = midnight.AddDate(0, 0, 1)
	case PeriodBeforeToday:
		filter.To = midnight
	}

	approved, err := balance.store.RequestListApproved(ctx, filter)
	if err != nil {
		return Stats{}, err
	}
	sites, err := balance.store.SiteList(ctx)
	if err != nil {
		return Stats{}, err
	}
	rates := make(map[string]model.SiteData, len(sites))
	for _, s := range sites {
		rates[model.SiteKey(s.Data.Name)] = s.Data
	}

	hundred := decimal.NewFromInt(100)
	stats := Stats{}
	for _, req := range approved {
		// комиссия считается только для известных сайтов
		rate := decimal.Zero
		siteData, known := rates[model.SiteKey(req.Data.Site)]
		switch req.Kind {
		case model.KindInvestment:
			stats.TotalInvestment = stats.TotalInvestment.Add(req.Data.Amount)
			if known {
				rate = siteData.InvestmentCommission
			}
		case model.KindWithdrawal:
			stats.TotalWithdrawal = stats.TotalWithdrawal.Add(req.Data.Amount)
			if known {
				rate = siteData.WithdrawalCommission
			}
		}
		stats.TotalCommission = stats.TotalCommission.Add(req.Data.Amount.Mul(rate).Div(hundred))
	}
	return stats, nil
}
