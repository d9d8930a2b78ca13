package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store"
)

const (
	queueSize   = 256
	sendTimeout = 15 * time.Second
)

type sentMessage struct {
	chatID    int64
	messageID int64
	text      string
}

// Notifier отправляет события в чат сайта.
// Отправка идет в отдельной горутине по очереди, вызывающий не ждет Bot API.
type Notifier struct {
	api    API
	store  store.Store
	jobs   chan func(ctx context.Context)
	zaplog *zap.Logger

	mu   sync.Mutex
	sent map[string]sentMessage // id заявки -> сообщение с кнопками
}

func NewNotifier(api API, store store.Store, zaplog *zap.Logger) *Notifier {
	return &Notifier{
		api:    api,
		store:  store,
		jobs:   make(chan func(ctx context.Context), queueSize),
		zaplog: zaplog.Named("telegram"),
		sent:   make(map[string]sentMessage),
	}
}

// Run выполняет отправки до отмены ctx
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-n.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			job(jobCtx)
			cancel()
		}
	}
}

func (n *Notifier) enqueue(name string, job func(ctx context.Context)) {
	select {
	case n.jobs <- job:
	default:
		n.zaplog.Warn("telegram queue full, message dropped", zap.String("event", name))
	}
}

// chatFor находит чат сайта. Сайт без чата - не ошибка
func (n *Notifier) chatFor(ctx context.Context, site string) (int64, bool) {
	s, err := n.store.SiteGetByName(ctx, site)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.zaplog.Warn("site lookup failed", zap.String("site", site), zap.Error(err))
		}
		return 0, false
	}
	if s.Data.TelegramChatID == 0 {
		return 0, false
	}
	return s.Data.TelegramChatID, true
}

func (n *Notifier) RequestCreated(_ context.Context, req model.PaymentRequest) {
	n.enqueue("request_created", func(ctx context.Context) {
		chatID, ok := n.chatFor(ctx, req.Data.Site)
		if !ok {
			return
		}
		text := requestText(req)
		msg, err := n.api.SendMessage(ctx, chatID, text, decisionKeyboard(req))
		if err != nil {
			n.zaplog.Warn("request message not delivered",
				zap.String("site", req.Data.Site), zap.String("id", req.ID), zap.Error(err))
			return
		}
		n.remember(req.ID, sentMessage{chatID: chatID, messageID: msg.MessageID, text: text})

		if req.Data.Suspicious {
			if _, err := n.api.SendMessage(ctx, chatID, suspiciousText(req.Data.SuspicionReason), nil); err != nil {
				n.zaplog.Warn("suspicious warning not delivered", zap.String("id", req.ID), zap.Error(err))
			}
		}
	})
}

// RequestDecided дописывает исход в сообщение заявки и убирает кнопки
func (n *Notifier) RequestDecided(_ context.Context, update model.StatusUpdate, req model.PaymentRequest) {
	n.enqueue("request_decided", func(ctx context.Context) {
		sent, ok := n.forget(update.RequestID)
		if !ok {
			// сообщение отправлено до перезапуска: пишем новое
			chatID, found := n.chatFor(ctx, req.Data.Site)
			if !found {
				return
			}
			if _, err := n.api.SendMessage(ctx, chatID, decidedText(requestText(req), update.Operator, update.NewStatus), nil); err != nil {
				n.zaplog.Warn("decision message not delivered", zap.String("id", update.RequestID), zap.Error(err))
			}
			return
		}
		err := n.api.EditMessageText(ctx, sent.chatID, sent.messageID,
			decidedText(sent.text, update.Operator, update.NewStatus), emptyKeyboard)
		if err != nil {
			n.zaplog.Warn("request message not edited", zap.String("id", update.RequestID), zap.Error(err))
		}
	})
}

// BankLockChanged в чат не пишется: о блокировке по лимиту сообщает BankLimitReached
func (n *Notifier) BankLockChanged(context.Context, string, bool) {}

func (n *Notifier) BankLimitReached(_ context.Context, bank model.InvestmentBank, site string) {
	n.enqueue("bank_limit_reached", func(ctx context.Context) {
		chatID, ok := n.chatFor(ctx, site)
		if !ok {
			return
		}
		if _, err := n.api.SendMessage(ctx, chatID, limitFullText(bank, site), limitFullKeyboard(bank)); err != nil {
			n.zaplog.Warn("limit message not delivered", zap.String("bankId", bank.ID), zap.Error(err))
		}
	})
}

func (n *Notifier) BankLimitWarning(_ context.Context, bank model.InvestmentBank, req model.PaymentRequest) {
	n.enqueue("bank_limit_warning", func(ctx context.Context) {
		chatID, ok := n.chatFor(ctx, req.Data.Site)
		if !ok {
			return
		}
		if _, err := n.api.SendMessage(ctx, chatID, limitWarningText(bank, req), nil); err != nil {
			n.zaplog.Warn("limit warning not delivered", zap.String("bankId", bank.ID), zap.Error(err))
		}
	})
}

func (n *Notifier) remember(id string, msg sentMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[id] = msg
}

func (n *Notifier) forget(id string) (sentMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg, ok := n.sent[id]
	delete(n.sent, id)
	return msg, ok
}
