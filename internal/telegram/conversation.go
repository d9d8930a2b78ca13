package telegram

import (
	"strings"
	"sync"
	"time"
)

// Шаги диалога обновления реквизитов банка
type step int

const (
	stepIdle step = iota
	stepAwaitingName
	stepAwaitingIBAN
)

type conversation struct {
	step    step
	bankID  string
	name    string
	updated time.Time
}

// Outcome - что сделать после очередного сообщения
type Outcome struct {
	// AskIBAN: имя принято, нужно спросить IBAN
	AskIBAN bool
	// Complete: диалог завершен, реквизиты собраны
	Complete bool
	BankID   string
	Name     string
	IBAN     string
}

// Conversations хранит не больше одного диалога на чат.
// Диалог без сообщений дольше ttl считается брошенным.
type Conversations struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[int64]conversation
}

func NewConversations(ttl time.Duration, now func() time.Time) *Conversations {
	if now == nil {
		now = time.Now
	}
	return &Conversations{ttl: ttl, now: now, states: make(map[int64]conversation)}
}

// Start начинает диалог заново, даже если предыдущий не закончен
func (c *Conversations) Start(chatID int64, bankID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[chatID] = conversation{step: stepAwaitingName, bankID: bankID, updated: c.now()}
}

// Advance принимает свободный текст. Команды диалог не трогают.
func (c *Conversations) Advance(chatID int64, text string) Outcome {
	if strings.HasPrefix(text, "/") {
		return Outcome{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[chatID]
	if !ok {
		return Outcome{}
	}
	if c.ttl > 0 && c.now().Sub(state.updated) > c.ttl {
		delete(c.states, chatID)
		return Outcome{}
	}

	switch state.step {
	case stepAwaitingName:
		name := strings.TrimSpace(text)
		if name == "" {
			return Outcome{}
		}
		state.name = name
		state.step = stepAwaitingIBAN
		state.updated = c.now()
		c.states[chatID] = state
		return Outcome{AskIBAN: true, BankID: state.bankID, Name: name}

	case stepAwaitingIBAN:
		delete(c.states, chatID)
		iban := strings.ToUpper(strings.Join(strings.Fields(text), ""))
		return Outcome{Complete: true, BankID: state.bankID, Name: state.name, IBAN: iban}
	}
	return Outcome{}
}

func (c *Conversations) Active(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[chatID]
	if !ok {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(state.updated) <= c.ttl
}

// Sweep удаляет брошенные диалоги
func (c *Conversations) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	for chatID, state := range c.states {
		if c.now().Sub(state.updated) > c.ttl {
			delete(c.states, chatID)
			removed++
		}
	}
	return removed
}
