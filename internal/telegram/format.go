package telegram

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/esbo/internal/balance"
	"github.com/iurnickita/esbo/internal/model"
)

// Тексты сообщений чата (Markdown)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// esc экранирует пользовательские значения для Markdown
func esc(s string) string {
	return markdownEscaper.Replace(s)
}

func statusTitle(status model.RequestStatus) string {
	switch status {
	case model.StatusApproved:
		return "Onaylandı"
	case model.StatusRejected:
		return "Reddedildi"
	}
	return "Beklemede"
}

func requestText(req model.PaymentRequest) string {
	var b strings.Builder
	if req.Kind == model.KindInvestment {
		b.WriteString("👍 *Yeni Yatırım Talebi* 👍\n\n")
		fmt.Fprintf(&b, "*Site Adı:* %s\n", esc(req.Data.Site))
		fmt.Fprintf(&b, "*Kullanıcı Adı:* %s\n", esc(req.Data.Username))
		fmt.Fprintf(&b, "*Müşteri İsim Soyisim:* %s\n", esc(req.Data.FullName))
		fmt.Fprintf(&b, "*Banka Adı:* %s\n", esc(req.Data.BankName))
		fmt.Fprintf(&b, "*IBAN:* `%s`\n", req.Data.IBAN)
		fmt.Fprintf(&b, "*Yatırım Tutarı:* *%s TL*", req.Data.Amount.String())
		return b.String()
	}

	b.WriteString("💸 *Yeni Çekim Talebi* 💸\n\n")
	fmt.Fprintf(&b, "*Site Adı:* %s\n", esc(req.Data.Site))
	fmt.Fprintf(&b, "*Kullanıcı Adı:* %s\n", esc(req.Data.Username))
	fmt.Fprintf(&b, "*Tutar:* *%s TL*\n\n", req.Data.Amount.String())
	b.WriteString("*Çekim Bilgileri:*")
	for _, field := range req.Data.Details {
		fmt.Fprintf(&b, "\n*%s:* `%s`", esc(field.Label), strings.ReplaceAll(field.Value, "`", "'"))
	}
	return b.String()
}

func decisionKeyboard(req model.PaymentRequest) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ Onayla", CallbackData: fmt.Sprintf("%s_%s_%s", actionApprove, req.Kind, req.ID)},
		{Text: "❌ Reddet", CallbackData: fmt.Sprintf("%s_%s_%s", actionReject, req.Kind, req.ID)},
	}}}
}

func decidedText(text string, operator string, status model.RequestStatus) string {
	return fmt.Sprintf("%s\n\n*İşlem Yapan:* %s\n*Durum:* *%s*", text, esc(operator), statusTitle(status))
}

func suspiciousText(reason string) string {
	return "⚠️ *ŞÜPHELİ İŞLEM UYARISI* ⚠️\n\n*Sebep:* " + esc(reason)
}

func limitFullText(bank model.InvestmentBank, site string) string {
	return fmt.Sprintf("❗️ *LİMİT UYARISI* ❗️\n\n*Site:* %s\n*Banka:* %s\n\nBu bankanın yatırım limiti dolmuştur ve kilitlenmiştir.",
		esc(site), esc(bank.Data.Name))
}

func limitFullKeyboard(bank model.InvestmentBank) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "🏦 Bilgileri Güncelle", CallbackData: actionUpdateBank + "_" + bank.ID},
	}}}
}

func limitWarningText(bank model.InvestmentBank, req model.PaymentRequest) string {
	return fmt.Sprintf("⚠️ *PROAKTİF LİMİT UYARISI* ⚠️\n\n*Site:* %s\n*Banka:* %s\n*Kullanıcı:* %s\n*Tutar:* %s\n\nBu işlem onaylanırsa, banka limitleri dolacaktır.",
		esc(req.Data.Site), esc(bank.Data.Name), esc(req.Data.Username), formatCurrency(req.Data.Amount))
}

func reportText(site string, today balance.Stats, past balance.Stats) string {
	title := site
	if site == balance.AllSites {
		title = "Tüm Siteler"
	}
	return fmt.Sprintf("📊 *Günlük Rapor: %s* 📊\n\n*Bugünkü Onaylı Yatırım:* %s\n*Bugünkü Onaylı Çekim:* %s\n*Bugünkü Komisyon Karı:* %s\n*Dünden Devreden Kar:* %s",
		esc(title), formatCurrency(today.TotalInvestment), formatCurrency(today.TotalWithdrawal),
		formatCurrency(today.TotalCommission), formatCurrency(past.TotalCommission))
}

func cashText(all balance.Stats, past balance.Stats) string {
	return fmt.Sprintf("💰 *Genel Kasa Durumu* 💰\n\n*Toplam Onaylı Yatırım:* %s\n*Toplam Onaylı Çekim:* %s\n*Dünden Devreden Kar:* %s",
		formatCurrency(all.TotalInvestment), formatCurrency(all.TotalWithdrawal), formatCurrency(past.TotalCommission))
}

func commissionText(today balance.Stats, past balance.Stats) string {
	return fmt.Sprintf("📈 *Komisyon Raporu* 📈\n\n*Bugünkü Komisyon Karı:* %s\n*Dünden Devreden Kar:* %s",
		formatCurrency(today.TotalCommission), formatCurrency(past.TotalCommission))
}

// formatCurrency печатает сумму в турецком формате: ₺1.234,50
func formatCurrency(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return sign + "₺" + grouped.String() + "," + frac
}
