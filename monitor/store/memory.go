package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds users, groups, orders and status logs in process memory.
// It implements the Store interface and backs the test suite.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[int64]*User
	groups map[int64]*OrderGroup
	orders map[int64]*Order
	logs   []StatusLog
	err    error
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*User),
		groups: make(map[int64]*OrderGroup),
		orders: make(map[int64]*Order),
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryStore) PutUser(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *MemoryStore) PutGroup(g *OrderGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.ID] = &cp
}

func (s *MemoryStore) PutOrder(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
}

// Order returns a copy of the order row, or nil.
func (s *MemoryStore) Order(orderID int64) *Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// StatusLogs returns a copy of the appended log entries.
func (s *MemoryStore) StatusLogs() []StatusLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StatusLog, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *MemoryStore) ActiveUsers(ctx context.Context) ([]ActiveUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	counts := make(map[int64]int)
	prioritySums := make(map[int64]int)
	for _, o := range s.orders {
		if o.Status != OrderPending && o.Status != OrderPartial {
			continue
		}
		u, ok := s.users[o.UserID]
		if !ok || u.Status != UserEnabled {
			continue
		}
		g, ok := s.groups[o.GroupID]
		if !ok || g.Status != GroupOpen {
			continue
		}
		counts[o.UserID]++
		prioritySums[o.UserID] += o.Priority
	}

	result := make([]ActiveUser, 0, len(counts))
	for userID, count := range counts {
		result = append(result, ActiveUser{
			UserID:      userID,
			OrderCount:  count,
			AvgPriority: float64(prioritySums[userID]) / float64(count),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OrderCount != result[j].OrderCount {
			return result[i].OrderCount > result[j].OrderCount
		}
		return result[i].AvgPriority > result[j].AvgPriority
	})
	return result, nil
}

func (s *MemoryStore) UserWorkingSet(ctx context.Context, userID int64) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}

	var result []*Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if o.Status != OrderPending && o.Status != OrderPartial {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, groupID int64) (*OrderGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) SnapshotUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	result := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) SnapshotGroups(ctx context.Context) ([]*OrderGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	result := make([]*OrderGroup, 0, len(s.groups))
	for _, g := range s.groups {
		cp := *g
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) UserGroups(ctx context.Context, userID int64) ([]*OrderGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	var result []*OrderGroup
	for _, g := range s.groups {
		if g.UserID == userID {
			cp := *g
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) CountGroupActiveOrders(ctx context.Context, groupID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return 0, s.err
	}
	count := 0
	for _, o := range s.orders {
		if o.GroupID == groupID && (o.Status == OrderPending || o.Status == OrderPartial) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus, filled float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	o.Status = status
	o.FilledQuantity = filled
	o.UpdatedAt = now
	if status == OrderFilled && o.FilledAt == nil {
		o.FilledAt = &now
	}
	return nil
}

func (s *MemoryStore) AppendStatusLog(ctx context.Context, entry *StatusLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, *entry)
	return nil
}
