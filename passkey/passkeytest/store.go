package passkeytest

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/passkey"
)

// MemStore is an in-memory [passkey.CredentialStore].
type MemStore struct {
	mu     sync.Mutex
	creds  []*passkey.Credential
	nextID int64
}

var _ passkey.CredentialStore = (*MemStore)(nil)

func (m *MemStore) CountByUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.creds {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) ListByUser(_ context.Context, userID string) ([]passkey.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []passkey.Credential
	for _, c := range m.creds {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemStore) ExistsForUser(ctx context.Context, userID string) (bool, error) {
	n, err := m.CountByUser(ctx, userID)
	return n > 0, err
}

func (m *MemStore) FindByCredentialID(_ context.Context, credentialID string) (*passkey.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.CredentialID == credentialID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, passkey.ErrCredentialNotFound
}

func (m *MemStore) Insert(_ context.Context, cred *passkey.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.CredentialID == cred.CredentialID {
			return passkey.ErrCredentialExists
		}
	}
	m.nextID++
	cred.ID = m.nextID
	cp := *cred
	m.creds = append(m.creds, &cp)
	return nil
}

func (m *MemStore) UpdateSignCount(_ context.Context, id int64, oldCount, newCount uint32, usedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.ID == id {
			if c.SignCount != oldCount {
				return false, nil
			}
			c.SignCount = newCount
			c.LastUsedAt = &usedAt
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) Rename(_ context.Context, userID string, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.ID == id && c.UserID == userID {
			c.DeviceName = name
			return nil
		}
	}
	return passkey.ErrCredentialNotFound
}

func (m *MemStore) Delete(_ context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.creds {
		if c.ID == id && c.UserID == userID {
			m.creds = append(m.creds[:i], m.creds[i+1:]...)
			return nil
		}
	}
	return passkey.ErrCredentialNotFound
}
