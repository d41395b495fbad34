package hitl

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hyvve/agentmesh/internal/contracts"
)

// MemoryApprovalStore is the in-memory default implementation of
// contracts.ApprovalStore, used for standalone operation when no external
// approval system is configured. Grounded on the teacher's in-memory
// store idiom (RWMutex-guarded map of ID to record).
type MemoryApprovalStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	status    contracts.ApprovalStatus
}

// NewMemoryApprovalStore creates an empty in-memory approval store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{records: make(map[string]*record)}
}

func (s *MemoryApprovalStore) Create(_ context.Context, actionType, resource string, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.records[id] = &record{status: contracts.ApprovalStatus{Status: "pending"}}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, id string) (contracts.ApprovalStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return contracts.ApprovalStatus{}, fmt.Errorf("approval %s not found", id)
	}
	return r.status, nil
}

// Resolve updates the stored status when a human decides; no HTTP route in
// this module calls it. This is the
// synchronous counterpart to the event-driven Notify path: resolving here
// does not by itself wake a waiter, the caller must also call
// Engine.Notify (or rely on the polling fallback to observe this update).
func (s *MemoryApprovalStore) Resolve(id, status, decidedBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("approval %s not found", id)
	}
	r.status = contracts.ApprovalStatus{Status: status, DecidedBy: decidedBy, Notes: notes}
	return nil
}
