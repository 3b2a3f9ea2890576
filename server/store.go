package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/demonid/chatline/model"
	"golang.org/x/crypto/bcrypt"
)

// AccountRecord is a claimed name as stored on disk.
type AccountRecord struct {
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	ClaimedAt    time.Time `json:"claimed_at"`
}

// AccountBook remembers which password claimed which name. The first
// login under a name claims it; later logins must present the same
// password.
type AccountBook struct {
	accounts map[string]*AccountRecord // Key: Name
	mu       sync.RWMutex
	file     string
	cost     int
}

func NewAccountBook(file string) *AccountBook {
	return &AccountBook{
		accounts: make(map[string]*AccountRecord),
		file:     file,
		cost:     bcrypt.DefaultCost,
	}
}

func (b *AccountBook) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading accounts %s: %w", b.file, err)
	}
	var records []*AccountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing accounts %s: %w", b.file, err)
	}
	for _, r := range records {
		b.accounts[r.Name] = r
	}
	return nil
}

// Check authenticates name with password, claiming the name if nobody
// has yet.
func (b *AccountBook) Check(name, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, exists := b.accounts[name]; exists {
		if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
			return model.ErrAuthFailed
		}
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	b.accounts[name] = &AccountRecord{
		Name:         name,
		PasswordHash: string(hash),
		ClaimedAt:    time.Now().UTC(),
	}
	if err := b.saveInternal(); err != nil {
		delete(b.accounts, name) // Rollback
		return err
	}
	return nil
}

// Names returns the claimed names, sorted.
func (b *AccountBook) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.accounts))
	for name := range b.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Must be called with lock held
func (b *AccountBook) saveInternal() error {
	records := make([]*AccountRecord, 0, len(b.accounts))
	for _, r := range b.accounts {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.file, data, 0600); err != nil {
		return fmt.Errorf("writing accounts %s: %w", b.file, err)
	}
	return nil
}
