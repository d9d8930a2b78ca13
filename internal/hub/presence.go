package hub

import (
	"sort"
	"sync"

	"github.com/iurnickita/esbo/internal/model"
)

// Presence - реестр подключенных операторов и клиентов сайта.
// Ключ - id websocket-подключения: у одного оператора может быть несколько вкладок.
type Presence struct {
	mu        sync.RWMutex
	admins    map[string]model.Operator
	customers map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{
		admins:    make(map[string]model.Operator),
		customers: make(map[string]struct{}),
	}
}

// AddAdmin возвращает true, если список операторов онлайн изменился
func (p *Presence) AddAdmin(clientID string, op model.Operator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.countOperator(op.ID)
	p.admins[clientID] = op
	return before == 0
}

func (p *Presence) AddCustomer(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.customers[clientID] = struct{}{}
}

// Remove убирает подключение и сообщает, какие списки изменились
func (p *Presence) Remove(clientID string) (adminsChanged bool, customersChanged bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if op, ok := p.admins[clientID]; ok {
		delete(p.admins, clientID)
		adminsChanged = p.countOperator(op.ID) == 0
	}
	if _, ok := p.customers[clientID]; ok {
		delete(p.customers, clientID)
		customersChanged = true
	}
	return adminsChanged, customersChanged
}

func (p *Presence) IsAdmin(clientID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.admins[clientID]
	return ok
}

// Admins - операторы онлайн без повторов, по имени
func (p *Presence) Admins() []model.Operator {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]struct{}, len(p.admins))
	out := make([]model.Operator, 0, len(p.admins))
	for _, op := range p.admins {
		if _, ok := seen[op.ID]; ok {
			continue
		}
		seen[op.ID] = struct{}{}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username == out[j].Username {
			return out[i].ID < out[j].ID
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func (p *Presence) Customers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.customers)
}

func (p *Presence) countOperator(id string) int {
	n := 0
	for _, op := range p.admins {
		if op.ID == id {
			n++
		}
	}
	return n
}
