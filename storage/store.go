// Package storage persists the SDK session in an SQLite database. Each API key
// owns a single encrypted session blob.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/raine/dailymotion-go/session"
	_ "modernc.org/sqlite"
)

// StoredSession is a persisted session row.
type StoredSession struct {
	APIKey      string
	Session     session.Session
	LastUpdated time.Time
}

// SQLiteStore stores sessions with AES-GCM encrypted token data.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based session store.
// The dbPath is the path to the SQLite database file.
// The encryptionKey is used to encrypt/decrypt token data.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Only effective once the file exists, which init guarantees.
	_ = os.Chmod(dbPath, 0600)

	return store, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		api_key TEXT PRIMARY KEY,
		encrypted_session TEXT NOT NULL,
		expires INTEGER NOT NULL DEFAULT 0,
		last_updated DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Get retrieves the session stored for apiKey.
// Returns nil, nil if there is none.
func (s *SQLiteStore) Get(apiKey string) (*StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	var lastUpdated time.Time

	err := s.db.QueryRow(
		"SELECT encrypted_session, last_updated FROM sessions WHERE api_key = ?",
		apiKey,
	).Scan(&encrypted, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	plaintext, err := Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &StoredSession{
		APIKey:      apiKey,
		Session:     sess,
		LastUpdated: lastUpdated,
	}, nil
}

// Save stores or replaces the session for apiKey.
func (s *SQLiteStore) Save(apiKey string, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	encrypted, err := Encrypt(plaintext, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (api_key, encrypted_session, expires, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(api_key) DO UPDATE SET
			encrypted_session = excluded.encrypted_session,
			expires = excluded.expires,
			last_updated = excluded.last_updated
	`, apiKey, encrypted, sess.Expires, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Delete removes the session for apiKey.
func (s *SQLiteStore) Delete(apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM sessions WHERE api_key = ?", apiKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Persister binds the store to one API key.
func (s *SQLiteStore) Persister(apiKey string) session.Persister {
	return &keyedPersister{store: s, apiKey: apiKey}
}

type keyedPersister struct {
	store  *SQLiteStore
	apiKey string
}

func (p *keyedPersister) Load() (*session.Session, error) {
	stored, err := p.store.Get(p.apiKey)
	if err != nil || stored == nil {
		return nil, err
	}
	return &stored.Session, nil
}

func (p *keyedPersister) Save(sess *session.Session) error {
	if sess == nil {
		return p.Clear()
	}
	return p.store.Save(p.apiKey, sess)
}

func (p *keyedPersister) Clear() error {
	return p.store.Delete(p.apiKey)
}
