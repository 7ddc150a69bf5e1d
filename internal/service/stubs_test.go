package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/everwear/tryonbot/internal/compositor"
	"github.com/everwear/tryonbot/internal/models"
	"github.com/everwear/tryonbot/internal/repository"
	"github.com/everwear/tryonbot/internal/storage"
)

var errBackend = errors.New("backend unavailable")

// memRepo is an in-memory entitlement store that counts accesses, so tests
// can assert allowlisted users never touch it.
type memRepo struct {
	mu        sync.Mutex
	paidTries map[int64]int
	freeUsed  map[int64]bool
	failAll   bool
	accesses  int
}

func newMemRepo() *memRepo {
	return &memRepo{
		paidTries: make(map[int64]int),
		freeUsed:  make(map[int64]bool),
	}
}

func (r *memRepo) touch() error {
	r.accesses++
	if r.failAll {
		return errBackend
	}
	return nil
}

func (r *memRepo) PaidTries(ctx context.Context, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return 0, err
	}
	return r.paidTries[userID], nil
}

func (r *memRepo) FreeUsed(ctx context.Context, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return false, err
	}
	return r.freeUsed[userID], nil
}

func (r *memRepo) GrantPaidTries(ctx context.Context, userID int64, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return err
	}
	r.paidTries[userID] += n
	return nil
}

func (r *memRepo) ConsumePaidTry(ctx context.Context, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return false, err
	}
	if r.paidTries[userID] <= 0 {
		return false, nil
	}
	r.paidTries[userID]--
	return true, nil
}

func (r *memRepo) MarkFreeUsed(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.touch(); err != nil {
		return err
	}
	r.freeUsed[userID] = true
	return nil
}

func (r *memRepo) accessCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accesses
}

type stubNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *stubNotifier) Notify(text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *stubNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type sentPhoto struct {
	chatID  int64
	data    []byte
	caption string
}

type stubSender struct {
	mu     sync.Mutex
	texts  []string
	photos []sentPhoto
}

func (s *stubSender) SendText(chatID int64, text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *stubSender) SendPhoto(chatID int64, data []byte, caption string) {
	s.mu.Lock()
	s.photos = append(s.photos, sentPhoto{chatID: chatID, data: data, caption: caption})
	s.mu.Unlock()
}

func (s *stubSender) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *stubSender) sentPhotos() []sentPhoto {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentPhoto(nil), s.photos...)
}

// memMedia is an in-memory object store keyed the same way as the S3
// adapter.
type memMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemMedia() *memMedia {
	return &memMedia{objects: make(map[string][]byte)}
}

func (m *memMedia) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errBackend
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memMedia) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return data, nil
}

func (m *memMedia) URL(key string) string {
	return "https://cdn.test/" + key
}

func (m *memMedia) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type stubComposer struct {
	mu       sync.Mutex
	err      error
	result   []byte
	composed int
}

func (c *stubComposer) Compose(ctx context.Context, personURL, garmentURL string) (*compositor.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.composed++
	if c.err != nil {
		return nil, c.err
	}
	return &compositor.Result{URL: "https://tryon.test/result.png"}, nil
}

func (c *stubComposer) Download(ctx context.Context, result *compositor.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	result.Bytes = c.result
	if result.Bytes == nil {
		result.Bytes = []byte("composite")
	}
	result.Mime = "image/png"
	return nil
}

func (c *stubComposer) composeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composed
}

type memPaymentLog struct {
	mu      sync.Mutex
	records map[string]*models.Payment
}

func newMemPaymentLog() *memPaymentLog {
	return &memPaymentLog{records: make(map[string]*models.Payment)}
}

func (l *memPaymentLog) Record(ctx context.Context, p *models.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[p.OperationID]; ok {
		return repository.ErrDuplicateOperation
	}
	stored := *p
	l.records[p.OperationID] = &stored
	return nil
}

func (l *memPaymentLog) FindByOperationID(ctx context.Context, operationID string) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.records[operationID]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, nil
}

type allowlistSet map[int64]struct{}

func (a allowlistSet) Allowlisted(userID int64) bool {
	_, ok := a[userID]
	return ok
}
