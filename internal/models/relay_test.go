package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionPackDeterministic(t *testing.T) {
	action := Action{
		Contract: "rem.token",
		Name:     "transfer",
		Authorization: []PermissionLevel{
			{Actor: "alice", Permission: "active"},
		},
		Data: []byte{0x01, 0x02, 0x03},
	}

	assert.Equal(t, action.Pack(), action.Pack())
}

func TestActionPackDistinguishesFields(t *testing.T) {
	base := Action{Contract: "rem.token", Name: "transfer", Data: []byte{0x01}}

	other := base
	other.Name = "issue"
	assert.NotEqual(t, base.Pack(), other.Pack())

	other = base
	other.Data = []byte{0x02}
	assert.NotEqual(t, base.Pack(), other.Pack())

	other = base
	other.Authorization = []PermissionLevel{{Actor: "bob", Permission: "active"}}
	assert.NotEqual(t, base.Pack(), other.Pack())
}

func TestActionPackLayout(t *testing.T) {
	action := Action{Contract: "ab", Name: "c"}

	// length-prefixed strings, zero authorizations, zero data bytes
	assert.Equal(t, []byte{2, 'a', 'b', 1, 'c', 0, 0}, action.Pack())
}
