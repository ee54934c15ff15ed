// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"sync"
	"time"
)

// timedEntry pairs a stored value with its expiry.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e timedEntry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStorage keeps all records in process memory. It is the default
// backend and suits single-replica deployments; a background janitor
// sweeps expired entries.
type MemoryStorage struct {
	mu           sync.RWMutex
	transactions map[string]timedEntry[*Transaction]
	codes        map[string]timedEntry[*AuthorizationCode]
	consumed     map[string]time.Time
	refreshUsed  map[string]time.Time

	cfg *Config

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns a memory-backed store and starts its janitor.
func NewMemoryStorage(cfg *Config) *MemoryStorage {
	s := &MemoryStorage{
		transactions: make(map[string]timedEntry[*Transaction]),
		codes:        make(map[string]timedEntry[*AuthorizationCode]),
		consumed:     make(map[string]time.Time),
		refreshUsed:  make(map[string]time.Time),
		cfg:          cfg.withDefaults(),
		stopCleanup:  make(chan struct{}),
		cleanupDone:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// StoreTransaction records a pending authorization under its state reference.
func (s *MemoryStorage) StoreTransaction(_ context.Context, ref string, txn *Transaction) error {
	cp := *txn
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[ref] = timedEntry[*Transaction]{
		value:     &cp,
		expiresAt: time.Now().Add(s.cfg.TransactionTTL),
	}
	return nil
}

// ConsumeTransaction removes and returns the transaction stored under ref.
func (s *MemoryStorage) ConsumeTransaction(_ context.Context, ref string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.transactions[ref]
	if !ok || entry.expired(time.Now()) {
		delete(s.transactions, ref)
		return nil, ErrNotFound
	}
	delete(s.transactions, ref)
	cp := *entry.value
	return &cp, nil
}

// StoreAuthorizationCode records a redeemable code.
func (s *MemoryStorage) StoreAuthorizationCode(_ context.Context, code string, record *AuthorizationCode) error {
	cp := *record
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = timedEntry[*AuthorizationCode]{
		value:     &cp,
		expiresAt: time.Now().Add(s.cfg.AuthCodeTTL),
	}
	return nil
}

// ConsumeAuthorizationCode removes and returns the code record. A second
// consume of the same code reports ErrCodeConsumed for as long as the
// consumed mark is retained.
func (s *MemoryStorage) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[code]
	if !ok || entry.expired(now) {
		delete(s.codes, code)
		if mark, seen := s.consumed[code]; seen && now.Before(mark) {
			return nil, ErrCodeConsumed
		}
		return nil, ErrNotFound
	}
	delete(s.codes, code)
	s.consumed[code] = now.Add(s.cfg.ConsumedRetention)
	cp := *entry.value
	return &cp, nil
}

// MarkRefreshTokenUsed records a redeemed refresh-token ID. It reports
// ErrAlreadyExists when the ID was already marked, which signals a replay.
func (s *MemoryStorage) MarkRefreshTokenUsed(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRefreshRetention
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, ok := s.refreshUsed[jti]; ok && now.Before(expiry) {
		return ErrAlreadyExists
	}
	s.refreshUsed[jti] = now.Add(ttl)
	return nil
}

// Close stops the janitor. It is safe to call more than once.
func (s *MemoryStorage) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStorage) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, entry := range s.transactions {
		if entry.expired(now) {
			delete(s.transactions, ref)
		}
	}
	for code, entry := range s.codes {
		if entry.expired(now) {
			delete(s.codes, code)
		}
	}
	for code, expiry := range s.consumed {
		if now.After(expiry) {
			delete(s.consumed, code)
		}
	}
	for jti, expiry := range s.refreshUsed {
		if now.After(expiry) {
			delete(s.refreshUsed, jti)
		}
	}
}
