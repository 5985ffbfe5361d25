package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboxCommandDefaults(t *testing.T) {
	cmd := NewOutboxCommand("W1", TypeShiftOpen, json.RawMessage(`{}`), "shift:S1:open:v1")

	require.NotEqual(t, "", cmd.ID.String())
	assert.Equal(t, StatusPending, cmd.Status)
	assert.Equal(t, 0, cmd.Attempts)
	assert.False(t, cmd.IsTerminal())
	assert.False(t, cmd.CreatedAtUtc.IsZero())
}

func TestStatusMachine(t *testing.T) {
	cases := []struct {
		from    CommandStatus
		to      CommandStatus
		allowed bool
	}{
		{StatusPending, StatusSyncing, true},
		{StatusPending, StatusSent, false},
		{StatusPending, StatusFailed, false},
		{StatusSyncing, StatusSent, true},
		{StatusSyncing, StatusPending, true}, // retry cycle
		{StatusSyncing, StatusFailed, true},
		{StatusSent, StatusPending, false},
		{StatusSent, StatusSyncing, false},
		{StatusFailed, StatusSyncing, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		cmd := &OutboxCommand{Status: tc.from}
		assert.Equal(t, tc.allowed, cmd.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, (&OutboxCommand{Status: StatusSent}).IsTerminal())
	assert.True(t, (&OutboxCommand{Status: StatusFailed}).IsTerminal())
	assert.False(t, (&OutboxCommand{Status: StatusPending}).IsTerminal())
	assert.False(t, (&OutboxCommand{Status: StatusSyncing}).IsTerminal())
}
