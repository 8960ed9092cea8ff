package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogStore persists operation output to per-operation log files. The wire
// protocol has no replay buffer; these files are the after-the-fact record.
type LogStore struct {
	basePath string
	mu       sync.Mutex
	files    map[string]*os.File // operation id → file
}

// NewLogStore creates a log store rooted at basePath.
func NewLogStore(basePath string) (*LogStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LogStore{
		basePath: basePath,
		files:    make(map[string]*os.File),
	}, nil
}

// Start opens the log file for an operation.
func (ls *LogStore) Start(operationID, kind string, params json.RawMessage) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	path := filepath.Join(ls.basePath, operationID+".log")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	header := fmt.Sprintf("# Operation: %s\n# Kind: %s\n# Params: %s\n# Started: %s\n\n",
		operationID, kind, string(params), time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write log header: %w", err)
	}

	if existing, ok := ls.files[operationID]; ok {
		_ = existing.Close()
	}
	ls.files[operationID] = f
	return nil
}

// Append writes one output line to an operation's log file.
func (ls *LogStore) Append(operationID, line string, isError bool) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	f, ok := ls.files[operationID]
	if !ok {
		return nil // operation was started without a log file
	}

	prefix := ""
	if isError {
		prefix = "[ERR] "
	}
	_, err := fmt.Fprintf(f, "[%s] %s%s\n", time.Now().Format("15:04:05"), prefix, line)
	return err
}

// Complete writes the footer and closes an operation's log file.
func (ls *LogStore) Complete(operationID, state, summary string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	f, ok := ls.files[operationID]
	if !ok {
		return nil
	}

	footer := fmt.Sprintf("\n# Completed: %s\n# State: %s\n# Summary: %s\n",
		time.Now().Format(time.RFC3339), state, summary)
	_, _ = f.WriteString(footer)

	_ = f.Close()
	delete(ls.files, operationID)
	return nil
}

// Close closes all open log files.
func (ls *LogStore) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for id, f := range ls.files {
		_ = f.Close()
		delete(ls.files, id)
	}
	return nil
}
