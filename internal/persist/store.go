package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/schema"
)

const executionsDir = "executions"

// Record describes a remote submission for later status and attach calls.
type Record struct {
	Name        string           `json:"name"`
	Project     string           `json:"project"`
	Domain      string           `json:"domain"`
	Version     string           `json:"version"`
	Mode        schema.Mode      `json:"mode"`
	Entity      schema.EntityRef `json:"entity"`
	ConsoleURL  string           `json:"console_url,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Phase       schema.Phase     `json:"phase,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Handle returns the backend handle for the record.
func (r Record) Handle() schema.ExecutionHandle {
	return schema.ExecutionHandle{Project: r.Project, Domain: r.Domain, Name: r.Name}
}

// Store persists execution records under <dir>/executions.
type Store struct {
	dir string
	log pslog.Logger
	now func() time.Time
}

// NewStore constructs a record store rooted at the state directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a record store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	root := filepath.Join(dir, executionsDir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: root, log: logger, now: time.Now}, nil
}

// Load reads the record for name.
func (s *Store) Load(name string) (Record, error) {
	path, err := s.pathFor(name)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("record load miss", "execution", name)
			return Record{}, fmt.Errorf("%w: no record for %s", schema.ErrExecutionNotFound, name)
		}
		s.warn("record load failed", "execution", name, "err", err)
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.warn("record load failed", "execution", name, "err", err)
		return Record{}, fmt.Errorf("decode record %s: %w", name, err)
	}
	return rec, nil
}

// Save writes rec atomically. UpdatedAt is stamped on every save.
func (s *Store) Save(rec Record) error {
	path, err := s.pathFor(rec.Name)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = now
	}
	rec.UpdatedAt = now
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		s.warn("record save failed", "execution", rec.Name, "err", err)
		return err
	}
	s.trace("record save ok", "execution", rec.Name, "phase", rec.Phase)
	return nil
}

// UpdateStatus records the latest observed status for name.
func (s *Store) UpdateStatus(name string, status schema.ExecutionStatus) (Record, error) {
	rec, err := s.Load(name)
	if err != nil {
		return Record{}, err
	}
	rec.Phase = status.Phase
	rec.Error = status.Error
	if err := s.Save(rec); err != nil {
		return Record{}, err
	}
	return s.Load(name)
}

// List returns all records, most recently submitted first. Unreadable
// files are skipped.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || entry.IsDir() {
			continue
		}
		rec, err := s.Load(name)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SubmittedAt.Equal(records[j].SubmittedAt) {
			return records[i].Name < records[j].Name
		}
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	return records, nil
}

func (s *Store) pathFor(name string) (string, error) {
	if err := schema.ValidateExecutionName(name); err != nil {
		return "", fmt.Errorf("%w: %q", err, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "record-*.json")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) trace(msg string, kv ...any) {
	if s.log != nil {
		s.log.Trace(msg, kv...)
	}
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}
