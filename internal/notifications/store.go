package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"logistics/internal/constants"
	pkgerrors "logistics/pkg/errors"
)

type Store interface {
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	// CreateTemplate fails with ErrConflict when the name is taken.
	CreateTemplate(ctx context.Context, t *Template) error

	// Insert fails with ErrConflict when the id is taken.
	Insert(ctx context.Context, n *Notification) error
	SetStatus(ctx context.Context, id string, status Status, sentAt *time.Time) error
	Get(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, filter ListFilter) ([]Notification, int, error)
}

func templateNotFound(name string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("template '%s' not found", name))
}

func templateExists(name string) *pkgerrors.Error {
	return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("template '%s' already exists", name))
}

func notificationExists(id string) *pkgerrors.Error {
	return pkgerrors.ErrConflict.WithDetail("message", fmt.Sprintf("notification '%s' already exists", id))
}

func notificationNotFound(id string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("notification '%s' not found", id))
}

type MemoryStore struct {
	mu            sync.RWMutex
	templates     map[string]Template
	notifications map[string]*Notification
	order         []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:     make(map[string]Template),
		notifications: make(map[string]*Notification),
	}
}

func (s *MemoryStore) GetTemplate(ctx context.Context, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return nil, templateNotFound(name)
	}
	return &t, nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.Name]; ok {
		return templateExists(t.Name)
	}
	s.templates[t.Name] = *t
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; ok {
		return notificationExists(n.ID)
	}
	c := *n
	s.notifications[n.ID] = &c
	s.order = append(s.order, n.ID)
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status Status, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return notificationNotFound(id)
	}
	n.Status = status
	n.SentAt = sentAt
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, notificationNotFound(id)
	}
	c := *n
	return &c, nil
}

// List returns newest first.
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []Notification{}
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.notifications[s.order[i]]
		if filter.Status == "" || n.Status == filter.Status {
			matched = append(matched, *n)
		}
	}

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if filter.Offset >= total {
		return []Notification{}, total, nil
	}
	end := filter.Offset + limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}
