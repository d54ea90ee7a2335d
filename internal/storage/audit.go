package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/canon"
	"github.com/vocdoni/gofirma/afipws/internal/logging"
)

const (
	AuditOpLogin     = "login"
	AuditOpAuthorize = "authorize"
	AuditOpLookup    = "lookup"
)

// AuditEntry records one outbound operation. Tokens and signs are never
// written here.
type AuditEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Service   string `json:"service,omitempty"`
	TupleKey  string `json:"tupleKey,omitempty"`
	From      int64  `json:"cbteDesde,omitempty"`
	To        int64  `json:"cbteHasta,omitempty"`
	Result    string `json:"result,omitempty"`
	CAE       string `json:"cae,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type AuditLogger struct {
	mu       sync.Mutex
	filePath string
	logger   *zap.Logger
}

func NewAuditLogger(dir string, logger *zap.Logger) (*AuditLogger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &AuditLogger{
		filePath: filepath.Join(dir, "audit.jsonl"),
		logger:   logging.OrNop(logger),
	}, nil
}

func (l *AuditLogger) Log(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Timestamp = time.Now().Format(time.RFC3339)
	l.logger.Debug("audit log entry",
		zap.String("id", entry.ID),
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status))

	data, err := canon.Encode(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

func (l *AuditLogger) ReadAll() ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []AuditEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	dec := json.NewDecoder(f)
	for dec.More() {
		var entry AuditEntry
		if err := dec.Decode(&entry); err != nil {
			// A torn trailing line cannot be resynchronized; keep what was read.
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
