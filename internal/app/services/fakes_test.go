package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/pkg/apperrors"
	"github.com/ieppc/matricula/internal/pkg/helpers"
	"github.com/ieppc/matricula/internal/pkg/verification"
	"github.com/ieppc/matricula/internal/queue"
	"github.com/rs/zerolog"
)

// memoryStore is an in-memory StudentAccountStore with the same conditional
// update and duplicate-skip behaviour as the PostgreSQL repository.
type memoryStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.StudentAccount
	nextID   int64
	calls    map[string]int
	now      func() time.Time
}

func newMemoryStore(clock helpers.Clock) *memoryStore {
	return &memoryStore{
		accounts: map[int64]*models.StudentAccount{},
		calls:    map[string]int{},
		now:      clock.Now,
	}
}

func (m *memoryStore) seed(a *models.StudentAccount) *models.StudentAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.accounts[a.ID] = a.Clone()
	return a
}

func (m *memoryStore) get(id int64) *models.StudentAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		return a.Clone()
	}
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func inStatuses(s models.RegistrationStatus, statuses []models.RegistrationStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *memoryStore) sorted() []*models.StudentAccount {
	out := make([]*models.StudentAccount, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memoryStore) Create(_ context.Context, a *models.StudentAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Create"]++
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = a.Clone()
	return nil
}

func (m *memoryStore) GetByID(_ context.Context, id int64) (*models.StudentAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperrors.ErrResourceNotFound
	}
	return a.Clone(), nil
}

func (m *memoryStore) FindByCodeAndNationalID(_ context.Context, code, nationalID string, status models.RegistrationStatus) (*models.StudentAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.sorted() {
		if a.StudentCode == code && a.NationalID == nationalID && a.RegistrationStatus == status {
			return a.Clone(), nil
		}
	}
	return nil, apperrors.ErrResourceNotFound
}

func (m *memoryStore) NationalIDExists(_ context.Context, nationalID string, statuses []models.RegistrationStatus, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.NationalID == nationalID && a.ID != excludeID && inStatuses(a.RegistrationStatus, statuses) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) FullNameExists(_ context.Context, name models.FullName, statuses []models.RegistrationStatus, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.GivenName == name.GivenName && a.FamilyName == name.FamilyName &&
			a.ID != excludeID && inStatuses(a.RegistrationStatus, statuses) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) EmailInUse(_ context.Context, email string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email != nil && *a.Email == email && a.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) StudentCodeExists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.StudentCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) Update(_ context.Context, a *models.StudentAccount, expected models.RegistrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Update"]++
	stored, ok := m.accounts[a.ID]
	if !ok || stored.RegistrationStatus != expected {
		return apperrors.ErrResourceNotFound
	}
	a.UpdatedAt = m.now()
	m.accounts[a.ID] = a.Clone()
	return nil
}

func (m *memoryStore) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for _, a := range m.sorted() {
		if a.RegistrationStatus == models.StatusPending && now.After(a.RegistrationExpiresAt) {
			a.RegistrationStatus = models.StatusExpired
			codes = append(codes, a.StudentCode)
		}
	}
	return codes, nil
}

func (m *memoryStore) List(_ context.Context, filter models.StudentAccountFilter) ([]*models.StudentAccount, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["List"]++
	var matched []*models.StudentAccount
	search := strings.ToLower(filter.Search)
	for _, a := range m.sorted() {
		if filter.Status != nil && a.RegistrationStatus != *filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.FullName()+" "+a.NationalID+" "+a.StudentCode), search) {
			continue
		}
		matched = append(matched, a.Clone())
	}
	offset, limit := helpers.CalculateOffsetLimit(filter.Page, filter.Size)
	total := int64(len(matched))
	if offset >= uint64(len(matched)) {
		return []*models.StudentAccount{}, total, nil
	}
	end := offset + limit
	if end > uint64(len(matched)) {
		end = uint64(len(matched))
	}
	return matched[offset:end], total, nil
}

func (m *memoryStore) CountByStatus(context.Context) (map[models.RegistrationStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.RegistrationStatus]int64{}
	for _, a := range m.accounts {
		counts[a.RegistrationStatus]++
	}
	return counts, nil
}

func (m *memoryStore) CountExpiringBetween(_ context.Context, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.RegistrationStatus == models.StatusPending &&
			!a.RegistrationExpiresAt.Before(from) && !a.RegistrationExpiresAt.After(to) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) CountPreRegisteredSince(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if !a.PreRegisteredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ExistingNationalIDs(_ context.Context, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ExistingNationalIDs"]++
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	seen := map[string]bool{}
	var found []string
	for _, a := range m.sorted() {
		if want[a.NationalID] && !seen[a.NationalID] {
			seen[a.NationalID] = true
			found = append(found, a.NationalID)
		}
	}
	return found, nil
}

func (m *memoryStore) ExistingFullNames(_ context.Context, names []models.FullName, statuses []models.RegistrationStatus) ([]models.FullName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["ExistingFullNames"]++
	want := map[models.FullName]bool{}
	for _, n := range names {
		want[n] = true
	}
	seen := map[models.FullName]bool{}
	var found []models.FullName
	for _, a := range m.sorted() {
		n := models.FullName{GivenName: a.GivenName, FamilyName: a.FamilyName}
		if want[n] && !seen[n] && inStatuses(a.RegistrationStatus, statuses) {
			seen[n] = true
			found = append(found, n)
		}
	}
	return found, nil
}

func (m *memoryStore) BulkInsert(_ context.Context, accounts []*models.StudentAccount) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["BulkInsert"]++
	inserted := 0
outer:
	for _, a := range accounts {
		for _, existing := range m.accounts {
			if existing.StudentCode == a.StudentCode {
				continue outer
			}
		}
		m.nextID++
		a.ID = m.nextID
		m.accounts[a.ID] = a.Clone()
		inserted++
	}
	return inserted, nil
}

type sentEmail struct {
	to   string
	name string
	code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (f *fakeMailer) SendVerificationEmail(toEmail, toName, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{to: toEmail, name: toName, code: code})
	return nil
}

func (f *fakeMailer) last() sentEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentEmail{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errSMTPDown = errors.New("smtp: connection refused")

var baseTime = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock     *helpers.FixedClock
	store     *memoryStore
	mailer    *fakeMailer
	publisher *recordingPublisher
	svc       RegistrationService
	importer  BulkImportService
}

func newHarness() *harness {
	clock := &helpers.FixedClock{T: baseTime}
	h := &harness{
		clock:     clock,
		store:     newMemoryStore(clock),
		mailer:    &fakeMailer{},
		publisher: &recordingPublisher{},
	}
	h.svc = NewRegistrationService(RegistrationDeps{
		Store:  h.store,
		Hasher: fakeHasher{},
		Issuer: verification.NewIssuer(clock, 15*time.Minute),
		Mailer: h.mailer,
		Clock:  clock,
		Events: h.publisher,
		Logger: zerolog.Nop(),
		Settings: RegistrationSettings{
			StubTTL:            helpers.Days(30),
			ExpiringSoonWindow: helpers.Days(7),
			RecentWindow:       helpers.Days(30),
		},
	})
	h.importer = NewBulkImportService(BulkImportDeps{
		Store:   h.store,
		Clock:   clock,
		Events:  h.publisher,
		Logger:  zerolog.Nop(),
		StubTTL: helpers.Days(30),
		MaxRows: 50,
	})
	return h
}
