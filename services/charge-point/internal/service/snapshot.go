package service

import (
	"sort"
	"sync"
	"time"
)

// ConnectorSnapshot is the read-only view of one connector.
type ConnectorSnapshot struct {
	ConnectorID   int       `json:"connector_id"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Availability  string    `json:"availability"`
	TransactionID int       `json:"transaction_id"`
	Session       bool      `json:"session"`
	IDTag         string    `json:"id_tag,omitempty"`
	Process       string    `json:"process"`
	MeterRecords  int       `json:"meter_records"`
	PermitsCharge bool      `json:"permits_charge"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Snapshots keeps connector views for readers outside the driving loop.
type Snapshots struct {
	mu         sync.RWMutex
	connectors map[int]ConnectorSnapshot
	liveLogs   int
}

// NewSnapshots returns an empty set.
func NewSnapshots() *Snapshots {
	return &Snapshots{connectors: make(map[int]ConnectorSnapshot)}
}

// Update stores the snapshot of one connector.
func (s *Snapshots) Update(snap ConnectorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[snap.ConnectorID] = snap
}

// SetLiveLogs records the number of live meter logs.
func (s *Snapshots) SetLiveLogs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveLogs = n
}

// LiveLogs returns the number of live meter logs.
func (s *Snapshots) LiveLogs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLogs
}

// Get returns one connector.
func (s *Snapshots) Get(connectorID int) (ConnectorSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.connectors[connectorID]
	return snap, ok
}

// All returns the connectors ordered by id.
func (s *Snapshots) All() []ConnectorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ConnectorSnapshot, 0, len(s.connectors))
	for _, snap := range s.connectors {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}
