package metering

import (
	"errors"

	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/storage"
)

type logKey struct {
	connectorID int
	txNr        int
}

type entry struct {
	log  *TransactionLog
	refs int
}

// Handle is a counted reference to a live TransactionLog.
type Handle struct {
	*TransactionLog
	entry    *entry
	released bool
}

// Release drops the reference and detaches the log from the handle.
// Calling it again has no effect.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.entry.refs--
	h.TransactionLog = nil
}

// Store shares one TransactionLog per (connector, transaction) while any
// handle to it is held. Entries without references are pruned lazily.
type Store struct {
	adapter storage.Adapter
	prefix  string
	logger  *zap.Logger
	entries map[logKey]*entry
}

// NewStore returns a registry writing slots below prefix. adapter may be nil.
func NewStore(adapter storage.Adapter, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapter == nil {
		logger.Debug("meter store in volatile mode")
	}
	return &Store{
		adapter: adapter,
		prefix:  prefix,
		logger:  logger,
		entries: make(map[logKey]*entry),
	}
}

// GetOrCreate returns a handle to the live log of the key, restoring it from
// storage when no handle is held and slot 0 exists.
func (s *Store) GetOrCreate(connectorID, txNr int, dec Decoder) (*Handle, error) {
	k := logKey{connectorID: connectorID, txNr: txNr}
	if e, ok := s.entries[k]; ok && e.refs > 0 {
		e.refs++
		return &Handle{TransactionLog: e.log, entry: e}, nil
	}

	s.prune()

	log := NewTransactionLog(connectorID, txNr, s.prefix, s.adapter, s.logger)
	if s.adapter != nil {
		first, err := SlotPath(s.prefix, connectorID, txNr, 0)
		if err != nil {
			s.logger.Error("cannot address meter slots", zap.Int("connector_id", connectorID), zap.Int("tx_nr", txNr), zap.Error(err))
			return nil, err
		}
		_, exists, err := s.adapter.Stat(first)
		if err != nil {
			s.logger.Warn("cannot stat meter slots, starting empty log",
				zap.String("path", first), zap.Int("tx_nr", txNr), zap.Error(err))
			exists = false
		}
		if exists {
			if err := log.Restore(dec); err != nil {
				if !errors.Is(err, ErrCorrupted) {
					return nil, err
				}
				s.removeSlots(connectorID, txNr, 0)
				s.logger.Error("removed corrupted meter records", zap.Int("connector_id", connectorID), zap.Int("tx_nr", txNr))
				log = NewTransactionLog(connectorID, txNr, s.prefix, s.adapter, s.logger)
			}
		}
	}

	e := &entry{log: log, refs: 1}
	s.entries[k] = e
	s.logger.Debug("meter log registered", zap.Int("tx_nr", txNr), zap.Int("live", len(s.entries)))
	return &Handle{TransactionLog: log, entry: e}, nil
}

// Remove finalizes and evicts the live log of the key and deletes its slots,
// highest index first. It reports whether every delete succeeded.
func (s *Store) Remove(connectorID, txNr int) bool {
	k := logKey{connectorID: connectorID, txNr: txNr}

	count := 0
	if e, ok := s.entries[k]; ok {
		if e.refs > 0 {
			count = e.log.Slots()
			e.log.Finalize()
		}
		delete(s.entries, k)
	}

	success := true
	if s.adapter != nil {
		success = s.removeSlots(connectorID, txNr, count)
	}

	s.prune()

	if success {
		s.logger.Debug("removed meter records", zap.Int("connector_id", connectorID), zap.Int("tx_nr", txNr))
	} else {
		s.logger.Warn("meter record storage is inconsistent", zap.Int("connector_id", connectorID), zap.Int("tx_nr", txNr))
	}
	return success
}

// removeSlots deletes count slots, scanning storage when count is 0.
func (s *Store) removeSlots(connectorID, txNr, count int) bool {
	if count == 0 {
		n, err := s.scanSlots(connectorID, txNr)
		if err != nil {
			s.logger.Error("scan meter slots failed", zap.Error(err))
			return false
		}
		count = n
	}

	success := true
	for index := count - 1; index >= 0; index-- {
		p, err := SlotPath(s.prefix, connectorID, txNr, index)
		if err != nil {
			return false
		}
		if err := s.adapter.Remove(p); err != nil {
			s.logger.Warn("remove meter slot failed", zap.String("path", p), zap.Error(err))
			success = false
		}
	}
	return success
}

// scanSlots returns the highest existing slot index plus one.
func (s *Store) scanSlots(connectorID, txNr int) (int, error) {
	count, misses := 0, 0
	for index := 0; misses < MissBudget; index++ {
		p, err := SlotPath(s.prefix, connectorID, txNr, index)
		if err != nil {
			return 0, err
		}
		_, exists, err := s.adapter.Stat(p)
		if err != nil || !exists {
			misses++
			continue
		}
		count = index + 1
		misses = 0
	}
	return count, nil
}

func (s *Store) prune() {
	for k, e := range s.entries {
		if e.refs <= 0 {
			delete(s.entries, k)
		}
	}
}

// Live returns the number of logs with at least one held handle.
func (s *Store) Live() int {
	n := 0
	for _, e := range s.entries {
		if e.refs > 0 {
			n++
		}
	}
	return n
}
