package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_AwaitConsume(t *testing.T) {
	m := New()
	m.Await("42", "broadcast", "")

	got, ok := m.Consume("42")
	require.True(t, ok)
	assert.Equal(t, Kind("broadcast"), got.Kind)

	_, ok = m.Consume("42")
	assert.False(t, ok, "consume is destructive")
}

func TestMachine_AwaitOverwrites(t *testing.T) {
	m := New()
	m.Await("42", "mute", "")
	m.Await("42", "private_reply", "1001")

	got, ok := m.Consume("42")
	require.True(t, ok)
	assert.Equal(t, Kind("private_reply"), got.Kind)
	assert.Equal(t, "1001", got.Context)
	assert.Equal(t, 0, m.Len())
}

func TestMachine_PrincipalsAreIndependent(t *testing.T) {
	m := New()
	m.Await("1", "relay", "")
	m.Await("2", "ban", "")

	m.Clear("1")
	_, ok := m.Peek("1")
	assert.False(t, ok)

	got, ok := m.Peek("2")
	require.True(t, ok)
	assert.Equal(t, Kind("ban"), got.Kind)
	_, ok = m.Peek("2")
	assert.True(t, ok, "peek does not consume")
}

func TestMachine_ConsumeKind(t *testing.T) {
	m := New()
	m.Await("42", "download_format", "https://youtu.be/x")

	_, ok := m.ConsumeKind("42", "relay")
	assert.False(t, ok)
	_, ok = m.Peek("42")
	assert.True(t, ok, "mismatched kind stays pending")

	got, ok := m.ConsumeKind("42", "relay", "download_format")
	require.True(t, ok)
	assert.Equal(t, "https://youtu.be/x", got.Context)
	_, ok = m.Peek("42")
	assert.False(t, ok)
}

func TestMachine_Expire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := New()
	m.now = func() time.Time { return now }

	m.Await("old", "relay", "")
	now = now.Add(20 * time.Minute)
	m.Await("fresh", "relay", "")

	assert.Equal(t, 1, m.Expire(15*time.Minute))
	_, ok := m.Peek("old")
	assert.False(t, ok)
	_, ok = m.Peek("fresh")
	assert.True(t, ok)
}

func TestMachine_ConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := fmt.Sprintf("p%d", i%10)
			m.Await(p, "relay", "")
			m.Consume(p)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, m.Len(), 10)
}
