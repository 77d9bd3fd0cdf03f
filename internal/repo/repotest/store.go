// Package repotest provides an in-memory implementation of the repo interfaces
// with the same per-phone serialization and commit-on-success semantics as the
// Postgres repositories.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

var (
	_ repo.UserRepo    = (*Store)(nil)
	_ repo.OtpRepo     = (*Store)(nil)
	_ repo.SessionRepo = (*Store)(nil)
	_ repo.ProfileRepo = (*Store)(nil)
)

// Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	phoneLocks map[string]*sync.Mutex
	users      map[uuid.UUID]model.User
	profiles   map[uuid.UUID]model.Profile
	otps       map[string][]model.OtpRequest
	sessions   map[string]model.Session

	// FailOtp, when set, is returned by WithPhoneLock before fn runs.
	FailOtp error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		phoneLocks: make(map[string]*sync.Mutex),
		users:      make(map[uuid.UUID]model.User),
		profiles:   make(map[uuid.UUID]model.Profile),
		otps:       make(map[string][]model.OtpRequest),
		sessions:   make(map[string]model.Session),
	}
}

// users

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("repotest.GetByID: %w", repo.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetByPhone(_ context.Context, phone string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByPhone(phone)
}

func (s *Store) userByPhone(phone string) (model.User, error) {
	for _, u := range s.users {
		if u.PhoneNumber == phone {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("repotest.GetByPhone: %w", repo.ErrNotFound)
}

func (s *Store) FindOrCreateByPhone(_ context.Context, phone string, now time.Time) (model.User, model.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, err := s.userByPhone(phone); err == nil {
		return u, model.IdentityFound, nil
	}
	u := model.User{
		ID:          uuid.New(),
		PhoneNumber: phone,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.users[u.ID] = u
	return u, model.IdentityCreated, nil
}

func (s *Store) SetActive(_ context.Context, id uuid.UUID, active bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("repotest.SetActive: %w", repo.ErrNotFound)
	}
	u.IsActive = active
	u.UpdatedAt = now
	s.users[id] = u
	return nil
}

// profiles

func (s *Store) CompleteRegistration(_ context.Context, p model.Profile, now time.Time) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[p.UserID]
	if !ok {
		return model.Profile{}, fmt.Errorf("repotest.CompleteRegistration: %w", repo.ErrNotFound)
	}
	if existing, ok := s.profiles[p.UserID]; ok {
		p.ID = existing.ID
	} else if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.profiles[p.UserID] = p
	u.IsBasicRegistrationComplete = true
	u.UpdatedAt = now
	s.users[u.ID] = u
	return p, nil
}

func (s *Store) GetByUserID(_ context.Context, userID uuid.UUID) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return model.Profile{}, fmt.Errorf("repotest.GetByUserID: %w", repo.ErrNotFound)
	}
	return p, nil
}

// sessions

func (s *Store) Create(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.RefreshTokenHash]; ok {
		return fmt.Errorf("repotest.Create: %w", repo.ErrAlreadyExists)
	}
	s.sessions[sess.RefreshTokenHash] = sess
	return nil
}

func (s *Store) FindByTokenHash(_ context.Context, tokenHash string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return model.Session{}, fmt.Errorf("repotest.FindByTokenHash: %w", repo.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) RevokeByTokenHash(_ context.Context, tokenHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok || sess.IsRevoked {
		return false, nil
	}
	sess.IsRevoked = true
	sess.RevokedAt = &at
	s.sessions[tokenHash] = sess
	return true, nil
}

// Sessions returns a snapshot of all sessions.
func (s *Store) Sessions() []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// otp requests

func (s *Store) phoneLock(phone string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.phoneLocks[phone]
	if !ok {
		l = &sync.Mutex{}
		s.phoneLocks[phone] = l
	}
	return l
}

func (s *Store) WithPhoneLock(ctx context.Context, phone string, fn func(tx repo.OtpTx) error) error {
	if s.FailOtp != nil {
		return s.FailOtp
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.phoneLock(phone)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	staged := append([]model.OtpRequest(nil), s.otps[phone]...)
	s.mu.Unlock()

	tx := &otpTx{phone: phone, rows: staged}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.otps[phone] = tx.rows
	s.mu.Unlock()
	return nil
}

// OtpRows returns a copy of the phone's rows in insertion order.
func (s *Store) OtpRows(phone string) []model.OtpRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OtpRequest(nil), s.otps[phone]...)
}

// ActiveOtpCount returns how many rows of the phone are active.
func (s *Store) ActiveOtpCount(phone string) int {
	n := 0
	for _, r := range s.OtpRows(phone) {
		if r.IsActive {
			n++
		}
	}
	return n
}

// otpTx works on a private copy of one phone's rows; the copy replaces the
// stored rows only if the callback succeeds.
type otpTx struct {
	phone string
	rows  []model.OtpRequest
}

func (t *otpTx) check(phone string) error {
	if phone != t.phone {
		return fmt.Errorf("repotest: phone %q is not locked by this transaction", phone)
	}
	return nil
}

func (t *otpTx) CountSince(_ context.Context, phone string, since time.Time) (int, time.Time, error) {
	if err := t.check(phone); err != nil {
		return 0, time.Time{}, err
	}
	var (
		n      int
		oldest time.Time
	)
	for _, r := range t.rows {
		if r.CreatedAt.Before(since) {
			continue
		}
		if n == 0 || r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		n++
	}
	return n, oldest, nil
}

func (t *otpTx) DeactivateActive(_ context.Context, phone string) (int, error) {
	if err := t.check(phone); err != nil {
		return 0, err
	}
	n := 0
	for i := range t.rows {
		if t.rows[i].IsActive {
			t.rows[i].IsActive = false
			n++
		}
	}
	return n, nil
}

func (t *otpTx) Insert(_ context.Context, req model.OtpRequest) error {
	if err := t.check(req.PhoneNumber); err != nil {
		return err
	}
	if req.IsActive {
		for _, r := range t.rows {
			if r.IsActive {
				return fmt.Errorf("repotest.Insert: %w", repo.ErrAlreadyExists)
			}
		}
	}
	t.rows = append(t.rows, req)
	return nil
}

func (t *otpTx) LatestIssued(_ context.Context, phone string) (model.OtpRequest, error) {
	if err := t.check(phone); err != nil {
		return model.OtpRequest{}, err
	}
	idx := -1
	for i, r := range t.rows {
		if r.Status != model.OtpStatusOK {
			continue
		}
		if r.IsActive {
			return r, nil
		}
		idx = i
	}
	if idx < 0 {
		return model.OtpRequest{}, fmt.Errorf("repotest.LatestIssued: %w", repo.ErrNotFound)
	}
	return t.rows[idx], nil
}

func (t *otpTx) UpdateAttempt(_ context.Context, id uuid.UUID, attempts int, active bool) error {
	for i := range t.rows {
		if t.rows[i].ID == id {
			t.rows[i].Attempts = attempts
			t.rows[i].IsActive = active
			return nil
		}
	}
	return fmt.Errorf("repotest.UpdateAttempt: %w", repo.ErrNotFound)
}
