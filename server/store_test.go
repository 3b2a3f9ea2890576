package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/demonid/chatline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAccountBook(t *testing.T) *AccountBook {
	t.Helper()
	b := NewAccountBook(filepath.Join(t.TempDir(), "accounts.json"))
	b.cost = bcrypt.MinCost
	return b
}

func TestAccountBookClaim(t *testing.T) {
	b := newTestAccountBook(t)

	require.NoError(t, b.Check("alice", "secret"))
	require.NoError(t, b.Check("alice", "secret"))
	assert.ErrorIs(t, b.Check("alice", "wrong"), model.ErrAuthFailed)

	require.NoError(t, b.Check("bob", ""))
	assert.Equal(t, []string{"alice", "bob"}, b.Names())
}

func TestAccountBookPersists(t *testing.T) {
	b := newTestAccountBook(t)
	require.NoError(t, b.Check("alice", "secret"))

	info, err := os.Stat(b.file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(b.file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	reloaded := NewAccountBook(b.file)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"alice"}, reloaded.Names())
	assert.NoError(t, reloaded.Check("alice", "secret"))
	assert.ErrorIs(t, reloaded.Check("alice", "guess"), model.ErrAuthFailed)
}

func TestAccountBookLoad(t *testing.T) {
	b := newTestAccountBook(t)
	assert.NoError(t, b.Load(), "missing file is an empty book")
	assert.Empty(t, b.Names())

	require.NoError(t, os.WriteFile(b.file, []byte("not json"), 0600))
	assert.Error(t, b.Load())
}

func TestAccountBookSaveFailureRollsBack(t *testing.T) {
	b := NewAccountBook(filepath.Join(t.TempDir(), "missing", "accounts.json"))
	b.cost = bcrypt.MinCost

	assert.Error(t, b.Check("alice", "secret"))
	assert.Empty(t, b.Names())
}
