package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/lockout"
)

var errIdentifierTaken = errors.New("identifier already registered")

// memoryAccounts is the account store behind serve --memory. Nothing survives a
// restart; use Postgres for anything else.
type memoryAccounts struct {
	mu      sync.RWMutex
	byID    map[string]*stayAuth.Account
	byIdent map[string]string
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		byID:    make(map[string]*stayAuth.Account),
		byIdent: make(map[string]string),
	}
}

func identKey(tenantID, identifier string) string {
	return tenantID + "\x00" + strings.ToLower(identifier)
}

func cloneAccount(a *stayAuth.Account) *stayAuth.Account {
	cp := *a
	cp.TwoFactor.BackupCodeHashes = append([]string(nil), a.TwoFactor.BackupCodeHashes...)
	return &cp
}

func (m *memoryAccounts) CreateAccount(_ context.Context, a stayAuth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identKey(a.TenantID, a.Identifier)
	if _, ok := m.byIdent[key]; ok {
		return errIdentifierTaken
	}
	m.byID[a.UserID] = cloneAccount(&a)
	m.byIdent[key] = a.UserID
	return nil
}

func (m *memoryAccounts) GetByIdentifier(_ context.Context, tenantID, identifier string) (*stayAuth.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIdent[identKey(tenantID, identifier)]
	if !ok {
		return nil, stayAuth.ErrAccountNotFound
	}
	return cloneAccount(m.byID[id]), nil
}

func (m *memoryAccounts) GetByID(_ context.Context, userID string) (*stayAuth.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[userID]
	if !ok {
		return nil, stayAuth.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *memoryAccounts) update(userID string, fn func(*stayAuth.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[userID]
	if !ok {
		return stayAuth.ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (m *memoryAccounts) RecordLockoutFailure(_ context.Context, userID string, t lockout.Tracker, now time.Time) (lockout.Record, error) {
	var rec lockout.Record
	err := m.update(userID, func(a *stayAuth.Account) {
		a.Lockout = t.RecordFailure(a.Lockout, now)
		rec = a.Lockout
	})
	return rec, err
}

func (m *memoryAccounts) UpdateLockout(_ context.Context, userID string, rec lockout.Record) error {
	return m.update(userID, func(a *stayAuth.Account) { a.Lockout = rec })
}

func (m *memoryAccounts) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	return m.update(userID, func(a *stayAuth.Account) { a.PasswordHash = hash })
}

func (m *memoryAccounts) SaveTwoFactor(_ context.Context, userID string, cred stayAuth.TwoFactorCredential) error {
	cred.BackupCodeHashes = append([]string(nil), cred.BackupCodeHashes...)
	return m.update(userID, func(a *stayAuth.Account) { a.TwoFactor = cred })
}

func (m *memoryAccounts) AdvanceTOTPCounter(_ context.Context, userID string, counter int64) (bool, error) {
	advanced := false
	err := m.update(userID, func(a *stayAuth.Account) {
		if counter > a.TwoFactor.LastCounter {
			a.TwoFactor.LastCounter = counter
			advanced = true
		}
	})
	return advanced, err
}

func (m *memoryAccounts) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	consumed := false
	err := m.update(userID, func(a *stayAuth.Account) {
		for i, h := range a.TwoFactor.BackupCodeHashes {
			if h == hash {
				a.TwoFactor.BackupCodeHashes = append(a.TwoFactor.BackupCodeHashes[:i], a.TwoFactor.BackupCodeHashes[i+1:]...)
				consumed = true
				return
			}
		}
	})
	return consumed, err
}
