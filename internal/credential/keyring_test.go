package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAndStore(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	prev := opener
	opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { opener = prev })

	_, ok := Lookup("telegram.token")
	assert.False(t, ok)

	require.NoError(t, Store("telegram.token", "bot-secret"))

	value, ok := Lookup("telegram.token")
	assert.True(t, ok)
	assert.Equal(t, "bot-secret", value)
}

func TestLookupWithoutKeyring(t *testing.T) {
	prev := opener
	opener = func() (keyring.Keyring, error) { return nil, errors.New("no backend") }
	t.Cleanup(func() { opener = prev })

	_, ok := Lookup("oauth.refresh_token")
	assert.False(t, ok)
	assert.Error(t, Store("oauth.refresh_token", "x"))
}
