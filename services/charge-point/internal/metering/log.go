// Package metering keeps the meter values of running transactions in bounded
// logs mirrored to storage, so that the StopTransaction report survives a reboot.
//
// Nothing in this package is safe for concurrent use.
package metering

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/storage"
)

const (
	// Capacity bounds the records held per transaction.
	Capacity = 10
	// MissBudget is the number of consecutive missing or undecodable slots ending a scan.
	MissBudget = 3
	// MaxPathLen is the longest slot path accepted by embedded filesystems.
	MaxPathLen = 96
)

var (
	ErrFinalized   = errors.New("metering: log is finalized")
	ErrNilRecord   = errors.New("metering: nil record")
	ErrCorrupted   = errors.New("metering: stored log exceeds capacity")
	ErrPathTooLong = errors.New("metering: slot path too long")
	ErrNotEmpty    = errors.New("metering: restore into non-empty log")
)

// SlotPath returns the storage path of one record slot.
func SlotPath(prefix string, connectorID, txNr, index int) (string, error) {
	p := fmt.Sprintf("%s/sd-%d-%d-%d.json", strings.TrimRight(prefix, "/"), connectorID, txNr, index)
	if len(p) > MaxPathLen {
		return "", fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(p))
	}
	return p, nil
}

// TransactionLog holds up to Capacity records of one transaction. Without a
// storage adapter it runs in volatile mode.
type TransactionLog struct {
	connectorID int
	txNr        int
	prefix      string
	adapter     storage.Adapter
	logger      *zap.Logger

	records   []*Record
	slots     int
	finalized bool
}

// NewTransactionLog returns an empty log. adapter may be nil.
func NewTransactionLog(connectorID, txNr int, prefix string, adapter storage.Adapter, logger *zap.Logger) *TransactionLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &TransactionLog{
		connectorID: connectorID,
		txNr:        txNr,
		prefix:      prefix,
		adapter:     adapter,
		logger:      logger.With(zap.Int("connector_id", connectorID), zap.Int("tx_nr", txNr)),
	}
	if adapter == nil {
		l.logger.Debug("meter log in volatile mode")
	}
	return l
}

func (l *TransactionLog) ConnectorID() int { return l.connectorID }
func (l *TransactionLog) TxNr() int        { return l.txNr }
func (l *TransactionLog) Len() int         { return len(l.records) }
func (l *TransactionLog) Finalized() bool  { return l.finalized }

// Slots is the number of slot indices in use, gaps included.
func (l *TransactionLog) Slots() int { return l.slots }

// Append stores r. At capacity the last record is replaced.
func (l *TransactionLog) Append(r *Record) error {
	if l.finalized {
		l.logger.Error("append to finalized meter log")
		return ErrFinalized
	}
	if r == nil {
		l.logger.Error("append nil meter record")
		return ErrNilRecord
	}

	full := len(l.records) >= Capacity
	index := l.slots
	if full {
		index = l.slots - 1
	}

	if l.adapter != nil {
		p, err := SlotPath(l.prefix, l.connectorID, l.txNr, index)
		if err != nil {
			l.logger.Error("build slot path failed", zap.Error(err))
			return err
		}
		doc, err := r.Document()
		if err != nil {
			return fmt.Errorf("metering: encode record: %w", err)
		}
		if err := l.adapter.Store(p, doc); err != nil {
			l.logger.Error("store meter record failed", zap.String("path", p), zap.Error(err))
			return fmt.Errorf("metering: store slot %d: %w", index, err)
		}
	}

	if full {
		l.records[len(l.records)-1] = r
		l.logger.Debug("updated latest meter record")
		return nil
	}
	l.records = append(l.records, r)
	l.slots++
	return nil
}

// RetrieveAndFinalize hands out the records once and finalizes the log.
func (l *TransactionLog) RetrieveAndFinalize() ([]*Record, error) {
	if l.finalized {
		l.logger.Error("meter log can only be retrieved once")
		return nil, ErrFinalized
	}
	l.finalized = true
	out := make([]*Record, len(l.records))
	copy(out, l.records)
	return out, nil
}

// Finalize makes the log immutable. It keeps the records.
func (l *TransactionLog) Finalize() { l.finalized = true }

// Restore reads slots from index 0 until MissBudget consecutive slots are
// missing or undecodable.
func (l *TransactionLog) Restore(dec Decoder) error {
	if l.adapter == nil {
		return nil
	}
	if len(l.records) > 0 || l.slots > 0 {
		return ErrNotEmpty
	}
	if dec == nil {
		dec = JSONDecoder
	}

	var (
		restored []*Record
		slots    int
		misses   int
	)
	for index := 0; misses < MissBudget; index++ {
		p, err := SlotPath(l.prefix, l.connectorID, l.txNr, index)
		if err != nil {
			return err
		}

		doc, err := l.adapter.Load(p)
		if err != nil {
			if !errors.Is(err, storage.ErrNotExist) {
				l.logger.Warn("load meter slot failed", zap.String("path", p), zap.Error(err))
			}
			misses++
			continue
		}

		r, err := dec.DecodeRecord(doc)
		if err != nil {
			l.logger.Warn("decode meter slot failed", zap.String("path", p), zap.Error(err))
			misses++
			continue
		}

		if len(restored) >= Capacity {
			l.logger.Error("stored meter log exceeds capacity", zap.Int("capacity", Capacity))
			return ErrCorrupted
		}
		restored = append(restored, r)
		slots = index + 1
		misses = 0
	}

	l.records = restored
	l.slots = slots
	l.logger.Debug("restored meter records", zap.Int("records", len(restored)))
	return nil
}
