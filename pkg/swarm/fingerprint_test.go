// AttoCode - swarm-orchestrated coding assistant
// License: MIT
//
// Copyright (c) 2026 AttoCode contributors

package swarm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderKeyPermutation(t *testing.T) {
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"path":"x.py","mode":"w","opts":{"b":2,"a":1}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"opts":{"a":1,"b":2},"mode":"w","path":"x.py"}`), &b))

	assert.Equal(t, Fingerprint("write_file", a), Fingerprint("write_file", b))
}

func TestFingerprintDistinguishes(t *testing.T) {
	t.Run("different tool", func(t *testing.T) {
		args := map[string]any{"path": "x.py"}
		assert.NotEqual(t, Fingerprint("read_file", args), Fingerprint("write_file", args))
	})

	t.Run("different args", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint("read_file", map[string]any{"path": "x.py"}),
			Fingerprint("read_file", map[string]any{"path": "y.py"}))
	})

	t.Run("nested value change", func(t *testing.T) {
		assert.NotEqual(t,
			Fingerprint("run", map[string]any{"opts": map[string]any{"n": 1}}),
			Fingerprint("run", map[string]any{"opts": map[string]any{"n": 2}}))
	})
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("bash", map[string]any{"cmd": "ls"})
	assert.Len(t, fp, FingerprintLength)

	// Structs and equivalent maps canonicalize identically.
	type args struct {
		Cmd string `json:"cmd"`
	}
	assert.Equal(t, fp, Fingerprint("bash", args{Cmd: "ls"}))
}

func TestCanonicalJSONSortsRecursively(t *testing.T) {
	got := canonicalJSON(map[string]any{
		"z": []any{map[string]any{"b": 1, "a": 2}},
		"a": "v",
	})
	assert.Equal(t, `{"a":"v","z":[{"a":2,"b":1}]}`, got)
}
