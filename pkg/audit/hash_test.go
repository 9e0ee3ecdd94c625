package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"json null", json.RawMessage("null"), ""},
		{"empty raw", json.RawMessage(" "), ""},
		{"sorted keys", map[string]interface{}{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"nested raw with whitespace", json.RawMessage(`{ "z": {"y": 1, "x": [3, {"d": 1, "c": 2}]}, "a": "<&>" }`),
			`{"a":"<&>","z":{"x":[3,{"c":2,"d":1}],"y":1}}`},
		{"number literal kept", json.RawMessage(`{"n": 12345678901234567890}`), `{"n":12345678901234567890}`},
		{"struct", struct {
			Role string `json:"role"`
			User int64  `json:"user_id"`
		}{"VIEWER", 7}, `{"role":"VIEWER","user_id":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Canonicalize(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestCanonicalize_OrderIndependent(t *testing.T) {
	a, err := Canonicalize(json.RawMessage(`{"role":"PRIEST","status":"ACTIVE","user_id":3}`))
	require.NoError(t, err)
	b, err := Canonicalize(json.RawMessage(`{"user_id":3,"status":"ACTIVE","role":"PRIEST"}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeHash(t *testing.T) {
	sum := sha256.Sum256([]byte(`membership.grantmembership42{"role":"VIEWER"}`))
	want := hex.EncodeToString(sum[:])

	got := ComputeHash("membership.grant", "membership", "42", "", `{"role":"VIEWER"}`, "")
	assert.Equal(t, want, got)
	assert.Len(t, got, 64)

	assert.NotEqual(t, got, ComputeHash("membership.grant", "membership", "42", "", `{"role":"VIEWER"}`, got),
		"the previous hash is part of the content")
}
