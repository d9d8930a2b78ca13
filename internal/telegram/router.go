package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/balance"
	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/service"
	"github.com/iurnickita/esbo/internal/telegram/config"
)

// Префиксы callback_data кнопок
const (
	actionApprove    = "approve"
	actionReject     = "reject"
	actionUpdateBank = "update_bank"
	actionReport     = "report"
)

const retryDelay = 3 * time.Second

var botCommands = []BotCommand{
	{Command: "rapor", Description: "Günlük site raporu alın"},
	{Command: "kasa", Description: "Genel kasa durumunu gösterir"},
	{Command: "komisyon", Description: "Günlük ve geçmiş komisyon karını gösterir"},
}

// Router принимает обновления бота: решения по заявкам, команды отчетов
// и ответы в диалоге обновления реквизитов.
type Router struct {
	api         API
	service     service.Service
	balance     balance.Balance
	conv        *Conversations
	pollTimeout time.Duration
	zaplog      *zap.Logger
}

func NewRouter(cfg config.Config, api API, service service.Service, balance balance.Balance, zaplog *zap.Logger) *Router {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 25 * time.Second
	}
	ttl := cfg.ConversationTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Router{
		api:         api,
		service:     service,
		balance:     balance,
		conv:        NewConversations(ttl, time.Now),
		pollTimeout: pollTimeout,
		zaplog:      zaplog.Named("telegram"),
	}
}

// Run опрашивает getUpdates до отмены ctx
func (r *Router) Run(ctx context.Context) {
	if err := r.api.SetMyCommands(ctx, botCommands); err != nil {
		r.zaplog.Warn("setMyCommands failed", zap.Error(err))
	}
	r.zaplog.Info("telegram bot polling started")

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := r.api.GetUpdates(ctx, offset, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.zaplog.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		for _, update := range updates {
			offset = update.UpdateID + 1
			r.HandleUpdate(ctx, update)
		}
		if n := r.conv.Sweep(); n > 0 {
			r.zaplog.Info("abandoned conversations discarded", zap.Int("count", n))
		}
	}
}

func (r *Router) HandleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	}
}

func (r *Router) handleCallback(ctx context.Context, cq *CallbackQuery) {
	if cq.Message == nil {
		r.answer(ctx, cq.ID, "")
		return
	}
	chatID := cq.Message.Chat.ID
	if !r.knownChat(ctx, chatID) {
		r.zaplog.Warn("callback from unknown chat", zap.Int64("chatId", chatID), zap.String("data", cq.Data))
		r.answer(ctx, cq.ID, "Bu işlem için yetkiniz yok.")
		return
	}

	switch {
	case strings.HasPrefix(cq.Data, actionUpdateBank+"_"):
		bankID := strings.TrimPrefix(cq.Data, actionUpdateBank+"_")
		r.conv.Start(chatID, bankID)
		r.send(ctx, chatID, "🏦 Banka güncelleme işlemi başlatıldı.\n\nLütfen yeni hesap sahibinin adını ve soyadını yazın:", nil)
		r.answer(ctx, cq.ID, "")

	case strings.HasPrefix(cq.Data, actionReport+"_"):
		site := strings.TrimPrefix(cq.Data, actionReport+"_")
		r.report(ctx, cq, site)

	case strings.HasPrefix(cq.Data, actionApprove+"_"):
		r.decide(ctx, cq, model.StatusApproved, strings.TrimPrefix(cq.Data, actionApprove+"_"))

	case strings.HasPrefix(cq.Data, actionReject+"_"):
		r.decide(ctx, cq, model.StatusRejected, strings.TrimPrefix(cq.Data, actionReject+"_"))

	default:
		r.answer(ctx, cq.ID, "")
	}
}

// decide применяет решение из чата. Сообщение заявки редактирует Notifier.
func (r *Router) decide(ctx context.Context, cq *CallbackQuery, status model.RequestStatus, params string) {
	kind, id, ok := strings.Cut(params, "_")
	if !ok || id == "" {
		r.answer(ctx, cq.ID, "Geçersiz işlem.")
		return
	}

	req, err := r.service.GetRequest(ctx, id)
	if err != nil {
		r.answer(ctx, cq.ID, "Talep bulunamadı.")
		return
	}
	if string(req.Kind) != kind {
		r.answer(ctx, cq.ID, "Geçersiz işlem.")
		return
	}

	// решение принимается только из чата сайта заявки
	site, err := r.service.SiteByName(ctx, req.Data.Site)
	if err != nil || site.Data.TelegramChatID != cq.Message.Chat.ID {
		r.zaplog.Warn("decision from foreign chat",
			zap.String("id", id),
			zap.String("site", req.Data.Site),
			zap.Int64("chatId", cq.Message.Chat.ID),
		)
		r.answer(ctx, cq.ID, "Bu işlem için yetkiniz yok.")
		return
	}

	_, err = r.service.Decide(ctx, id, status, cq.From.DisplayName(), model.OriginChat)
	var decided *service.AlreadyDecidedError
	switch {
	case errors.As(err, &decided):
		r.answer(ctx, cq.ID, fmt.Sprintf("Bu talep zaten %s tarafından işlendi.", decided.Operator))
	case err != nil:
		r.zaplog.Error("chat decision failed", zap.String("id", id), zap.Error(err))
		r.answer(ctx, cq.ID, "İşlem başarısız.")
	default:
		r.answer(ctx, cq.ID, fmt.Sprintf("Talep %s!", statusTitle(status)))
	}
}

func (r *Router) report(ctx context.Context, cq *CallbackQuery, site string) {
	today, err := r.balance.Stats(ctx, site, balance.PeriodToday)
	if err != nil {
		r.zaplog.Error("report failed", zap.String("site", site), zap.Error(err))
		r.answer(ctx, cq.ID, "Rapor oluşturulamadı.")
		return
	}
	past, err := r.balance.Stats(ctx, site, balance.PeriodBeforeToday)
	if err != nil {
		r.zaplog.Error("report failed", zap.String("site", site), zap.Error(err))
		r.answer(ctx, cq.ID, "Rapor oluşturulamadı.")
		return
	}
	if err := r.api.EditMessageText(ctx, cq.Message.Chat.ID, cq.Message.MessageID, reportText(site, today, past), nil); err != nil {
		r.zaplog.Warn("report message not edited", zap.Error(err))
	}
	r.answer(ctx, cq.ID, "")
}

func (r *Router) handleMessage(ctx context.Context, msg *Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chatID := msg.Chat.ID

	if strings.HasPrefix(text, "/") {
		if !r.knownChat(ctx, chatID) {
			return
		}
		command, _, _ := strings.Cut(strings.Fields(text)[0], "@")
		r.handleCommand(ctx, chatID, command)
		return
	}

	out := r.conv.Advance(chatID, text)
	switch {
	case out.AskIBAN:
		r.send(ctx, chatID, fmt.Sprintf("✅ Hesap sahibi \"%s\" olarak ayarlandı.\n\nŞimdi lütfen yeni IBAN numarasını girin (örn: TR11...):", esc(out.Name)), nil)

	case out.Complete:
		bank, err := r.service.UpdateBankDetails(ctx, out.BankID, out.Name, out.IBAN)
		if err != nil {
			r.zaplog.Warn("bank update from chat failed", zap.String("bankId", out.BankID), zap.Error(err))
			if errors.Is(err, service.ErrValidation) || errors.Is(err, service.ErrNotFound) {
				r.send(ctx, chatID, "❌ Güncelleme başarısız: "+esc(err.Error()), nil)
				return
			}
			r.send(ctx, chatID, "❌ Güncelleme sırasında bir veritabanı hatası oluştu.", nil)
			return
		}
		r.send(ctx, chatID, fmt.Sprintf("✅ Harika! Banka bilgileri başarıyla güncellendi.\n\n*Yeni Hesap Sahibi:* %s\n*Yeni IBAN:* %s",
			esc(bank.Data.AccountHolder), bank.Data.IBAN), nil)
	}
}

func (r *Router) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "/rapor":
		sites, err := r.service.Sites(ctx)
		if err != nil {
			r.zaplog.Error("site list failed", zap.Error(err))
			return
		}
		keyboard := make([][]InlineKeyboardButton, 0, len(sites)+1)
		for _, site := range sites {
			name := strings.TrimSpace(site.Data.Name)
			keyboard = append(keyboard, []InlineKeyboardButton{{Text: name, CallbackData: actionReport + "_" + name}})
		}
		keyboard = append(keyboard, []InlineKeyboardButton{{Text: "Tümü", CallbackData: actionReport + "_" + balance.AllSites}})
		r.send(ctx, chatID, "Hangi site için rapor istersiniz?", &InlineKeyboardMarkup{InlineKeyboard: keyboard})

	case "/kasa":
		all, err := r.balance.Stats(ctx, balance.AllSites, balance.PeriodAll)
		if err != nil {
			r.zaplog.Error("stats failed", zap.Error(err))
			return
		}
		past, err := r.balance.Stats(ctx, balance.AllSites, balance.PeriodBeforeToday)
		if err != nil {
			r.zaplog.Error("stats failed", zap.Error(err))
			return
		}
		r.send(ctx, chatID, cashText(all, past), nil)

	case "/komisyon":
		today, err := r.balance.Stats(ctx, balance.AllSites, balance.PeriodToday)
		if err != nil {
			r.zaplog.Error("stats failed", zap.Error(err))
			return
		}
		past, err := r.balance.Stats(ctx, balance.AllSites, balance.PeriodBeforeToday)
		if err != nil {
			r.zaplog.Error("stats failed", zap.Error(err))
			return
		}
		r.send(ctx, chatID, commissionText(today, past), nil)
	}
}

// knownChat - чат принадлежит одному из сайтов
func (r *Router) knownChat(ctx context.Context, chatID int64) bool {
	sites, err := r.service.Sites(ctx)
	if err != nil {
		r.zaplog.Error("site list failed", zap.Error(err))
		return false
	}
	for _, site := range sites {
		if site.Data.TelegramChatID != 0 && site.Data.TelegramChatID == chatID {
			return true
		}
	}
	return false
}

func (r *Router) send(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) {
	if _, err := r.api.SendMessage(ctx, chatID, text, markup); err != nil {
		r.zaplog.Warn("message not delivered", zap.Int64("chatId", chatID), zap.Error(err))
	}
}

func (r *Router) answer(ctx context.Context, callbackID string, text string) {
	if err := r.api.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		r.zaplog.Debug("answerCallbackQuery failed", zap.Error(err))
	}
}

// ResolveToken выбирает токен бота: из настроек или первого сайта, где он задан
func ResolveToken(cfg config.Config, sites []model.Site) string {
	if cfg.Token != "" {
		return cfg.Token
	}
	for _, site := range sites {
		if site.Data.TelegramToken != "" {
			return site.Data.TelegramToken
		}
	}
	return ""
}
