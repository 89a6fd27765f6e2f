package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry represents a single audit log entry
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Event describes one committed ledger mutation.
type Event struct {
	Op      string
	Account int
	Amount  int64
	Balance int64
}

// Payload renders the event in the form stored in the chain.
func (e Event) Payload() string {
	return fmt.Sprintf("op=%s account=%d amount=%d balance=%d", e.Op, e.Account, e.Amount, e.Balance)
}

// Sink receives every entry right after it is chained.
type Sink func(*LogEntry)

// LogrusSink writes entries to logger at debug level.
func LogrusSink(logger *logrus.Entry) Sink {
	return func(e *LogEntry) {
		logger.WithFields(logrus.Fields{
			"hash": e.Hash,
			"prev": e.PreviousHash,
		}).Debug(e.Payload)
	}
}

// ChainLogger provides a tamper-evident record of mutations using hash chaining.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sink         Sink
	now          func() time.Time
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
// sink may be nil.
func NewChainLogger(sink Sink) *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
		sink:         sink,
		now:          time.Now,
	}
}

// Append adds a new log entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload)
	c.previousHash = entry.Hash

	if c.sink != nil {
		c.sink(entry)
	}
	return entry
}

// Record appends a ledger event.
func (c *ChainLogger) Record(e Event) *LogEntry {
	return c.Append(e.Payload())
}

// Head returns the hash of the last appended entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func entryHash(prev, timestamp, payload string) string {
	sum := sha256.Sum256([]byte(prev + "|" + timestamp + "|" + payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != entries[i-1].Hash {
			return false
		}
		if entryHash(entry.PreviousHash, entry.Timestamp, entry.Payload) != entry.Hash {
			return false
		}
	}
	return true
}
