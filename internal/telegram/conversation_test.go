package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationFlow(t *testing.T) {
	now := time.Now()
	c := NewConversations(15*time.Minute, func() time.Time { return now })

	// Без диалога текст игнорируется
	require.Equal(t, Outcome{}, c.Advance(100, "Ali Veli"))

	c.Start(100, "b1")
	require.True(t, c.Active(100))
	require.False(t, c.Active(200))

	// Команды не продвигают диалог
	require.Equal(t, Outcome{}, c.Advance(100, "/kasa"))

	out := c.Advance(100, " Ali Veli ")
	require.Equal(t, Outcome{AskIBAN: true, BankID: "b1", Name: "Ali Veli"}, out)

	// Другой чат не видит чужой диалог
	require.Equal(t, Outcome{}, c.Advance(200, "TR00"))

	out = c.Advance(100, "tr12 0006 1005 1978")
	require.Equal(t, Outcome{Complete: true, BankID: "b1", Name: "Ali Veli", IBAN: "TR12000610051978"}, out)
	require.False(t, c.Active(100))
	require.Equal(t, Outcome{}, c.Advance(100, "more text"))
}

func TestConversationRestart(t *testing.T) {
	c := NewConversations(0, nil)
	c.Start(1, "b1")
	c.Advance(1, "First Holder")
	c.Start(1, "b2")

	require.Equal(t, Outcome{AskIBAN: true, BankID: "b2", Name: "Second"}, c.Advance(1, "Second"))
}

func TestConversationTimeout(t *testing.T) {
	now := time.Now()
	c := NewConversations(time.Minute, func() time.Time { return now })
	c.Start(1, "b1")
	c.Start(2, "b2")

	now = now.Add(2 * time.Minute)
	require.False(t, c.Active(1))
	require.Equal(t, Outcome{}, c.Advance(1, "Ali Veli"))
	require.Equal(t, 1, c.Sweep())
	require.Equal(t, 0, c.Sweep())
}
