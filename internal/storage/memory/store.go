// Package memory provides an in-memory storage implementation.
//
// It exists for tests and for single-process setups where durability
// does not matter. All data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openas4/msh/internal/storage"
)

// Store implements storage.Repository and storage.BodyStore in memory.
type Store struct {
	mu          sync.Mutex
	outMessages map[string]*storage.OutMessage
	inMessages  map[string]*storage.InMessage
	retries     map[string]*storage.RetryRecord
	exceptions  map[string]*storage.Exception
	bodies      map[string]storedBody
}

type storedBody struct {
	data        []byte
	contentType string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		outMessages: make(map[string]*storage.OutMessage),
		inMessages:  make(map[string]*storage.InMessage),
		retries:     make(map[string]*storage.RetryRecord),
		exceptions:  make(map[string]*storage.Exception),
		bodies:      make(map[string]storedBody),
	}
}

func (s *Store) InsertOutMessage(ctx context.Context, m *storage.OutMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outMessages[m.EbmsMessageID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, m.EbmsMessageID)
	}
	now := time.Now().UTC()
	if m.InsertedAt.IsZero() {
		m.InsertedAt = now
	}
	m.ModifiedAt = now

	clone := *m
	s.outMessages[m.EbmsMessageID] = &clone
	return nil
}

func (s *Store) GetOutMessage(ctx context.Context, ebmsMessageID string) (*storage.OutMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.outMessages[ebmsMessageID]
	if !ok {
		return nil, fmt.Errorf("%w: out message %s", storage.ErrNotFound, ebmsMessageID)
	}
	clone := *m
	return &clone, nil
}

func (s *Store) UpdateOutMessageOperation(ctx context.Context, ebmsMessageID string, op storage.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.outMessages[ebmsMessageID]
	if !ok {
		return fmt.Errorf("%w: out message %s", storage.ErrNotFound, ebmsMessageID)
	}
	m.Operation = op
	m.ModifiedAt = time.Now().UTC()
	return nil
}

func (s *Store) ClaimOutMessage(ctx context.Context, mpc string) (*storage.OutMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *storage.OutMessage
	for _, m := range s.outMessages {
		if m.Mpc != mpc || m.Operation != storage.OperationToBeSent {
			continue
		}
		if oldest == nil || m.InsertedAt.Before(oldest.InsertedAt) {
			oldest = m
		}
	}
	if oldest == nil {
		return nil, storage.ErrNoMessageAvailable
	}

	oldest.Operation = storage.OperationSending
	oldest.ModifiedAt = time.Now().UTC()
	clone := *oldest
	return &clone, nil
}

func (s *Store) InsertInMessage(ctx context.Context, m *storage.InMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inMessages[m.EbmsMessageID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, m.EbmsMessageID)
	}
	now := time.Now().UTC()
	if m.InsertedAt.IsZero() {
		m.InsertedAt = now
	}
	m.ModifiedAt = now

	clone := *m
	s.inMessages[m.EbmsMessageID] = &clone
	return nil
}

func (s *Store) GetInMessage(ctx context.Context, ebmsMessageID string) (*storage.InMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.inMessages[ebmsMessageID]
	if !ok {
		return nil, fmt.Errorf("%w: in message %s", storage.ErrNotFound, ebmsMessageID)
	}
	clone := *m
	return &clone, nil
}

func (s *Store) UpdateInMessageOperation(ctx context.Context, ebmsMessageID string, op storage.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.inMessages[ebmsMessageID]
	if !ok {
		return fmt.Errorf("%w: in message %s", storage.ErrNotFound, ebmsMessageID)
	}
	m.Operation = op
	m.ModifiedAt = time.Now().UTC()
	return nil
}

func (s *Store) IsDuplicate(ctx context.Context, ebmsMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.inMessages[ebmsMessageID]
	return ok, nil
}

func (s *Store) InsertRetryRecord(ctx context.Context, r *storage.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retries[r.EbmsMessageID]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateMessage, r.EbmsMessageID)
	}
	if r.InsertedAt.IsZero() {
		r.InsertedAt = time.Now().UTC()
	}
	clone := *r
	s.retries[r.EbmsMessageID] = &clone
	return nil
}

func (s *Store) GetRetryRecord(ctx context.Context, ebmsMessageID string) (*storage.RetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retries[ebmsMessageID]
	if !ok {
		return nil, fmt.Errorf("%w: retry record %s", storage.ErrNotFound, ebmsMessageID)
	}
	clone := *r
	return &clone, nil
}

func (s *Store) UpdateRetryRecord(ctx context.Context, r *storage.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.retries[r.EbmsMessageID]; !ok {
		return fmt.Errorf("%w: retry record %s", storage.ErrNotFound, r.EbmsMessageID)
	}
	clone := *r
	s.retries[r.EbmsMessageID] = &clone
	return nil
}

func (s *Store) DueRetries(ctx context.Context, now time.Time, limit int) ([]*storage.RetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*storage.RetryRecord
	for _, r := range s.retries {
		if r.Status != storage.RetryStatusPending || r.NextRetryTime.After(now) {
			continue
		}
		clone := *r
		due = append(due, &clone)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryTime.Before(due[j].NextRetryTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) InsertException(ctx context.Context, e *storage.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.InsertedAt.IsZero() {
		e.InsertedAt = time.Now().UTC()
	}
	clone := *e
	s.exceptions[e.ID] = &clone
	return nil
}

func (s *Store) ExceptionsToNotify(ctx context.Context, direction storage.ExceptionDirection, limit int) ([]*storage.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*storage.Exception
	for _, e := range s.exceptions {
		if e.Direction != direction || e.Operation != storage.OperationToBeNotified {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InsertedAt.Before(out[j].InsertedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateExceptionOperation(ctx context.Context, id string, op storage.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exceptions[id]
	if !ok {
		return fmt.Errorf("%w: exception %s", storage.ErrNotFound, id)
	}
	e.Operation = op
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

// BodyStore implementation

func (s *Store) SaveBody(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.bodies[id] = storedBody{data: data, contentType: contentType}
	return id, nil
}

func (s *Store) LoadBody(ctx context.Context, bodyID string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bodies[bodyID]
	if !ok {
		return nil, "", fmt.Errorf("%w: body %s", storage.ErrNotFound, bodyID)
	}
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return data, b.contentType, nil
}

func (s *Store) DeleteBody(ctx context.Context, bodyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bodies, bodyID)
	return nil
}
