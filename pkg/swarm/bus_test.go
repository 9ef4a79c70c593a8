// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInEmitOrder(t *testing.T) {
	bus := NewEventBus()
	var seen []string
	bus.Subscribe(func(e SwarmEvent) {
		seen = append(seen, e.Message)
	})

	for i := 0; i < 10; i++ {
		bus.Emit(newEvent(EventInfo, "", "", fmt.Sprintf("m%d", i), nil))
	}

	require.Len(t, seen, 10)
	for i, msg := range seen {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg)
	}
}

func TestBusSubscriberPanicIsolated(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(func(SwarmEvent) { panic("bad subscriber") })
	var got int
	bus.Subscribe(func(SwarmEvent) { got++ })

	assert.NotPanics(t, func() {
		bus.Emit(newEvent(EventInfo, "", "", "hello", nil))
	})
	assert.Equal(t, 1, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var got int
	sub := bus.Subscribe(func(SwarmEvent) { got++ })

	bus.Emit(newEvent(EventInfo, "", "", "one", nil))
	sub.Unsubscribe()
	bus.Emit(newEvent(EventInfo, "", "", "two", nil))

	assert.Equal(t, 1, got)
	assert.NotPanics(t, sub.Unsubscribe)
}

func TestBusHistoryRing(t *testing.T) {
	bus := NewEventBus()
	bus.historyCap = 5
	for i := 0; i < 8; i++ {
		bus.Emit(newEvent(EventInfo, "", "", fmt.Sprintf("m%d", i), nil))
	}

	history := bus.History()
	require.Len(t, history, 5)
	assert.Equal(t, "m3", history[0].Message)
	assert.Equal(t, "m7", history[4].Message)

	recent := bus.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m6", recent[0].Message)
	assert.Equal(t, "m7", recent[1].Message)
}

func TestBusPersistenceJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	bus := NewEventBus()
	require.NoError(t, bus.EnablePersistence(path))

	bus.Emit(newEvent(EventSpawn, "task-1", "worker-1", "spawned", &SpawnPayload{WorkerID: "worker-1", Model: "m", Attempt: 1, Budget: 1000}))
	bus.Emit(newEvent(EventComplete, "task-1", "worker-1", "done", &CompletePayload{TokensUsed: 500}))
	bus.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []SwarmEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e SwarmEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, EventSpawn, lines[0].Type)
	assert.Equal(t, "task-1", lines[0].TaskID)
	assert.EqualValues(t, 1000, lines[0].Data["budget"])
	assert.Equal(t, EventComplete, lines[1].Type)
}
