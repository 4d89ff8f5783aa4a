// Package memstore provides in-memory TaskRepository and Ledger
// implementations with the same conditional-write semantics as the Postgres
// versions. Services use them in tests; nothing here is durable.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/postgres"
)

var (
	_ postgres.TaskRepository = (*Tasks)(nil)
	_ postgres.Ledger         = (*Ledger)(nil)
)

// Tasks is an in-memory postgres.TaskRepository.
type Tasks struct {
	mu    sync.Mutex
	rows  map[string]*domain.Task
	clock func() time.Time

	// Err, when set, is returned by every call until cleared.
	Err error
	// Writes counts accepted writes.
	Writes int
}

// NewTasks creates an empty store reading wall time from clock (time.Now if nil).
func NewTasks(clock func() time.Time) *Tasks {
	if clock == nil {
		clock = time.Now
	}
	return &Tasks{rows: make(map[string]*domain.Task), clock: clock}
}

// Put stores task verbatim, bypassing the write rules. Test setup only.
func (s *Tasks) Put(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[task.ID] = task.Clone()
}

// bump gives t an updated_at strictly after its previous one.
func (s *Tasks) bump(t *domain.Task) {
	now := s.clock().UTC()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Microsecond)
	}
	t.UpdatedAt = now
	s.Writes++
}

func (s *Tasks) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	now := s.clock().UTC()
	task.CreatedAt, task.UpdatedAt = now, now
	s.rows[task.ID] = task.Clone()
	s.Writes++
	return nil
}

func (s *Tasks) GetByID(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.rows[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t.Clone(), nil
}

func (s *Tasks) Touch(_ context.Context, id string, progress *int) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.rows[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	if t.Status.IsTerminal() {
		return nil, &domain.TaskTerminalError{TaskID: id, Status: t.Status}
	}
	if progress != nil {
		t.Progress = max(t.Progress, domain.ClampProgress(*progress))
	}
	s.bump(t)
	return t.Clone(), nil
}

func (s *Tasks) Advance(_ context.Context, tr domain.Transition) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	t, ok := s.rows[tr.TaskID]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: tr.TaskID}
	}
	matched := false
	for _, from := range tr.From {
		if t.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		if t.Status.IsTerminal() {
			return nil, &domain.TaskTerminalError{TaskID: tr.TaskID, Status: t.Status}
		}
		return nil, &domain.InvalidTransitionError{TaskID: tr.TaskID, From: t.Status, To: tr.To}
	}
	tr.Patch.Apply(t)
	t.Status = tr.To
	s.bump(t)
	return t.Clone(), nil
}

func (s *Tasks) Fail(_ context.Context, req domain.FailRequest) (*domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}
	t, ok := s.rows[req.TaskID]
	if !ok {
		return nil, false, &domain.TaskNotFoundError{TaskID: req.TaskID}
	}
	if t.Status.IsTerminal() || (req.StaleBefore != nil && !t.UpdatedAt.Before(*req.StaleBefore)) {
		return t.Clone(), false, nil
	}
	msg := req.ErrorText()
	t.Status = domain.StatusFailed
	t.Progress = 0
	t.ErrorMessage = &msg
	s.bump(t)
	return t.Clone(), true, nil
}

func (s *Tasks) ListStale(_ context.Context, statuses []domain.Status, before time.Time, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*domain.Task
	for _, t := range s.rows {
		for _, st := range statuses {
			if t.Status == st && t.UpdatedAt.Before(before) {
				out = append(out, t.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ledger is an in-memory postgres.Ledger. Refund is idempotent per credit id.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int
	entries  map[string]*entry

	// RefundErr, when set, is returned by Refund without touching balances.
	RefundErr error
	// RefundCalls counts Refund invocations per credit id.
	RefundCalls map[string]int
}

type entry struct {
	userID   string
	amount   int
	refunded bool
}

// NewLedger creates a ledger with the given starting balances.
func NewLedger(balances map[string]int) *Ledger {
	b := make(map[string]int, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &Ledger{balances: b, entries: make(map[string]*entry), RefundCalls: make(map[string]int)}
}

func (l *Ledger) Consume(_ context.Context, userID string, amount int, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return "", &domain.InsufficientCreditsError{UserID: userID, Required: amount}
	}
	l.balances[userID] -= amount
	id := uuid.New().String()
	l.entries[id] = &entry{userID: userID, amount: amount}
	return id, nil
}

func (l *Ledger) Refund(_ context.Context, creditID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RefundCalls[creditID]++
	if l.RefundErr != nil {
		return false, l.RefundErr
	}
	e, ok := l.entries[creditID]
	if !ok {
		return false, &domain.CreditEntryNotFoundError{CreditID: creditID}
	}
	if e.refunded {
		return false, nil
	}
	e.refunded = true
	l.balances[e.userID] += e.amount
	return true, nil
}

func (l *Ledger) Balance(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// Refunds returns the number of Refund calls made for creditID.
func (l *Ledger) Refunds(creditID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.RefundCalls[creditID]
}
