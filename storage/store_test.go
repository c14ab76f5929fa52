package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/raine/dailymotion-go/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	key, err := DeriveKey("test passphrase")
	require.NoError(t, err)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveGetDelete(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get("key")
	require.NoError(t, err)
	assert.Nil(t, got)

	sess := &session.Session{AccessToken: "a", RefreshToken: "r", Expires: 1700000000, Scope: "read"}
	require.NoError(t, store.Save("key", sess))

	got, err = store.Get("key")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *sess, got.Session)
	assert.Equal(t, "key", got.APIKey)
	assert.False(t, got.LastUpdated.IsZero())

	require.NoError(t, store.Save("key", &session.Session{AccessToken: "b"}))
	got, err = store.Get("key")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Session.AccessToken)

	require.NoError(t, store.Delete("key"))
	got, err = store.Get("key")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_TokensEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save("key", &session.Session{AccessToken: "very-secret-token"}))

	var raw string
	require.NoError(t, store.db.QueryRow("SELECT encrypted_session FROM sessions WHERE api_key = ?", "key").Scan(&raw))
	assert.False(t, strings.Contains(raw, "very-secret-token"))
}

func TestSQLiteStore_WrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	key1, _ := DeriveKey("one")
	key2, _ := DeriveKey("two")

	store, err := NewSQLiteStore(path, key1)
	require.NoError(t, err)
	require.NoError(t, store.Save("key", &session.Session{AccessToken: "a"}))
	store.Close()

	store, err = NewSQLiteStore(path, key2)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Get("key")
	assert.ErrorContains(t, err, "failed to decrypt")
}

func TestPersister(t *testing.T) {
	store := newTestStore(t)
	p := store.Persister("key")
	other := store.Persister("other")

	require.NoError(t, p.Save(&session.Session{AccessToken: "a"}))

	got, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)

	got, err = other.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, p.Save(nil))
	got, err = p.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("passphrase")
	require.NoError(t, err)
	k2, _ := DeriveKey("passphrase")
	k3, _ := DeriveKey("other")

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("")
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	key, _ := DeriveKey("k")
	enc, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)

	dec, err := Decrypt(enc, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(dec))

	_, err = Decrypt("not base64!", key)
	assert.Error(t, err)
}
