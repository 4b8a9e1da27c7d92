// Package auth manages user accounts and login sessions.
//
// Accounts live in SQLite with bcrypt password hashes. Sessions are
// kept in memory and handed to browsers as opaque cookie tokens, so a
// restart logs everyone out but never leaks credentials to disk.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrUsernameTaken is returned by Register when the username exists.
var ErrUsernameTaken = errors.New("用户名已存在")

// ErrInvalidCredentials is returned by Login on a bad username or password.
var ErrInvalidCredentials = errors.New("用户名或密码错误")

// User is an account record. PasswordHash never leaves this package.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time

	passwordHash string
}

// Store is the SQLite-backed user account store.
type Store struct {
	db *sql.DB
}

// NewStore creates the account store and its schema if missing.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("auth migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
	`)
	return err
}

// Register creates an account. Usernames are trimmed and must be
// unique; a duplicate returns ErrUsernameTaken rather than a raw
// constraint error.
func (s *Store) Register(username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("用户名不能为空")
	}
	if len(password) < 4 {
		return nil, errors.New("密码至少需要4个字符")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
	`, username, string(hash), now.Format(time.RFC3339Nano))
	if err != nil {
		// The unique index trips on duplicates; the message check keeps
		// this independent of which sqlite driver is loaded.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &User{ID: id, Username: username, CreatedAt: now}, nil
}

// Login verifies a username and password and returns the account.
// Both unknown usernames and wrong passwords yield the same
// ErrInvalidCredentials so the response leaks nothing.
func (s *Store) Login(username, password string) (*User, error) {
	u, err := s.getByUsername(strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns an account by id, or nil when not found.
func (s *Store) GetUser(id int64) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, username, password_hash, created_at FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func (s *Store) getByUsername(username string) (*User, error) {
	row := s.db.QueryRow(`
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &u.passwordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}
