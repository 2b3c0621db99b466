package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"medauth/internal/domain"
	"medauth/internal/repository"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
	err          error
}

func newMockUserRepo(users ...domain.User) *mockUserRepo {
	m := &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
	for _, u := range users {
		m.usersByID[u.ID] = u
		m.usersByEmail[u.Email] = u.ID
	}
	return m
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.User{}, m.err
	}
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	id, ok := m.usersByEmail[email]
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.GetByID(ctx, id)
}

func (m *mockUserRepo) List(_ context.Context, status domain.Status, _ int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.usersByID {
		if status == "" || u.Status == status {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserRepo) update(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(&user)
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) UpdateLastConnection(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *domain.User) { u.LastConnection = &at })
}

func (m *mockUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return m.update(id, func(u *domain.User) { u.PasswordHash = hash })
}

func (m *mockUserRepo) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	return m.update(id, func(u *domain.User) { u.Status = status })
}

type mockTwoFactorRepo struct {
	mu    sync.Mutex
	codes map[string]domain.TwoFactorCode
}

func newMockTwoFactorRepo() *mockTwoFactorRepo {
	return &mockTwoFactorRepo{codes: make(map[string]domain.TwoFactorCode)}
}

func (m *mockTwoFactorRepo) Replace(_ context.Context, code domain.TwoFactorCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[code.UserID] = code
	return nil
}

func (m *mockTwoFactorRepo) GetByUserID(_ context.Context, userID string) (domain.TwoFactorCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	if !ok {
		return domain.TwoFactorCode{}, pgx.ErrNoRows
	}
	return code, nil
}

func (m *mockTwoFactorRepo) Consume(_ context.Context, userID, codeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	if !ok || code.ID != codeID {
		return false, nil
	}
	delete(m.codes, userID)
	return true, nil
}

func (m *mockTwoFactorRepo) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, userID)
	return nil
}

type mockEmailSender struct {
	mu          sync.Mutex
	lastTo      string
	lastCode    string
	lastExpires time.Time
	sent        int
	err         error
}

func (m *mockEmailSender) SendTwoFactorCode(_ context.Context, toEmail string, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTo = toEmail
	m.lastCode = code
	m.lastExpires = expiresAt
	m.sent++
	return m.err
}
