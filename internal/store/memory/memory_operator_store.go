package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

type operator struct {
	types.Operator
	hash []byte
}

type OperatorStore struct {
	mu        sync.Mutex
	operators map[string]*operator
	nextID    int64
}

func NewOperatorStore() *OperatorStore {
	return &OperatorStore{operators: make(map[string]*operator)}
}

var _ store.OperatorStore = (*OperatorStore)(nil)

func (s *OperatorStore) Upsert(_ context.Context, username, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.operators[username]; ok {
		op.hash = hash
		return op.ID, nil
	}
	s.nextID++
	s.operators[username] = &operator{
		Operator: types.Operator{ID: s.nextID, Username: username, CreatedAt: time.Now()},
		hash:     hash,
	}
	return s.nextID, nil
}

func (s *OperatorStore) Authenticate(_ context.Context, username, password string) (bool, error) {
	s.mu.Lock()
	op, ok := s.operators[username]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(op.hash, []byte(password)) == nil, nil
}

func (s *OperatorStore) List(_ context.Context) ([]types.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Operator, 0, len(s.operators))
	for _, op := range s.operators {
		out = append(out, op.Operator)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *OperatorStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operators[username]; !ok {
		return custom_errors.ErrOperatorNotFound
	}
	delete(s.operators, username)
	return nil
}
