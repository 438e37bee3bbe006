package app

import (
	"strings"
	"sync"

	"biz-agent/internal/ai"
	"biz-agent/internal/core"
)

const DefaultContextTurns = 5

// Memory keeps the last few exchanges per sender for the resolver.
type Memory struct {
	mu       sync.Mutex
	turns    int
	bySender map[string][]ai.Exchange
}

func NewMemory(turns int) *Memory {
	if turns <= 0 {
		turns = DefaultContextTurns
	}
	return &Memory{turns: turns, bySender: make(map[string][]ai.Exchange)}
}

// Recent returns a copy of the sender's exchanges, oldest first.
func (m *Memory) Recent(sender string) []ai.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.Exchange(nil), m.bySender[sender]...)
}

func (m *Memory) Add(sender string, ex ai.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.bySender[sender], ex)
	if len(list) > m.turns {
		list = append([]ai.Exchange(nil), list[len(list)-m.turns:]...)
	}
	m.bySender[sender] = list
}

// Authorizer decides which senders may use the agent. An empty list allows
// everyone.
type Authorizer struct {
	allowed map[string]bool
}

func NewAuthorizer(senders []string, owner string) *Authorizer {
	a := &Authorizer{allowed: make(map[string]bool)}
	for _, s := range senders {
		if k := phoneKey(s); k != "" {
			a.allowed[k] = true
		}
	}
	if k := phoneKey(owner); k != "" && len(a.allowed) > 0 {
		a.allowed[k] = true
	}
	return a
}

func (a *Authorizer) Allowed(sender string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	return a.allowed[phoneKey(sender)]
}

// phoneKey compares numbers by their last ten digits so "+91 98100 00001",
// "919810000001" and "whatsapp:+919810000001" are the same sender.
func phoneKey(s string) string {
	digits := strings.TrimPrefix(core.NormalizePhone(s), "+")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}
