package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/flatstore/internal/config"
	"github.com/oshokin/flatstore/internal/domain/install"
)

// Repository defines persistence operations for request outcomes.
type Repository interface {
	List(ctx context.Context) ([]*install.Outcome, error)
	Get(ctx context.Context, id install.Identifier) (*install.Outcome, error)
	Record(ctx context.Context, outcome *install.Outcome) error
}

// FileRepository persists outcomes to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the journal file.
	path string
	// mu protects concurrent access to the journal file.
	mu sync.Mutex
}

// ErrNotFound is returned when no outcome is recorded for a package.
var ErrNotFound = errors.New("outcome not found")

// journalFile is the on-disk layout.
type journalFile struct {
	// Records holds one entry per package, most recent first.
	Records []record `yaml:"records"`
}

// record is the on-disk form of an outcome.
type record struct {
	// Package is the identifier.
	Package string `yaml:"package"`
	// Session is the request id.
	Session string `yaml:"session"`
	// Operation is install, update or fetch.
	Operation string `yaml:"operation"`
	// ExitCode is the installer exit code.
	ExitCode int `yaml:"exit_code"`
	// Error is the failure message.
	Error string `yaml:"error,omitempty"`
	// FinishedAt is the completion time in UTC.
	FinishedAt time.Time `yaml:"finished_at"`
}

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// List returns every recorded outcome, most recent first.
// A journal that does not exist yet is empty.
func (r *FileRepository) List(_ context.Context) ([]*install.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.read()
	if err != nil {
		return nil, err
	}

	outcomes := make([]*install.Outcome, 0, len(file.Records))
	for i := range file.Records {
		outcomes = append(outcomes, fromRecord(&file.Records[i]))
	}

	return outcomes, nil
}

// Get returns the last outcome recorded for id.
func (r *FileRepository) Get(_ context.Context, id install.Identifier) (*install.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.read()
	if err != nil {
		return nil, err
	}

	for i := range file.Records {
		if file.Records[i].Package == id.String() {
			return fromRecord(&file.Records[i]), nil
		}
	}

	return nil, ErrNotFound
}

// Record stores outcome, replacing any previous one for the same package.
func (r *FileRepository) Record(_ context.Context, outcome *install.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.read()
	if err != nil {
		return err
	}

	entry := toRecord(outcome)
	records := file.Records[:0]

	for _, existing := range file.Records {
		if existing.Package != entry.Package {
			records = append(records, existing)
		}
	}

	records = append(records, entry)

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})

	file.Records = records

	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err = encoder.Encode(file); err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	if err = encoder.Close(); err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	if err = os.WriteFile(r.path, buf.Bytes(), config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write journal file: %w", err)
	}

	return nil
}

// read loads the journal; callers hold mu.
func (r *FileRepository) read() (*journalFile, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return new(journalFile), nil
		}

		return nil, fmt.Errorf("read journal file: %w", err)
	}

	file := new(journalFile)
	if err = yaml.Unmarshal(contents, file); err != nil {
		return nil, fmt.Errorf("decode journal file: %w", err)
	}

	return file, nil
}

// fromRecord converts the on-disk record into the domain Outcome.
func fromRecord(r *record) *install.Outcome {
	return &install.Outcome{
		Identifier: install.Identifier(r.Package),
		Session:    r.Session,
		Operation:  install.Operation(r.Operation),
		ExitCode:   r.ExitCode,
		Error:      r.Error,
		FinishedAt: r.FinishedAt,
	}
}

// toRecord converts the domain Outcome into its on-disk record.
func toRecord(outcome *install.Outcome) record {
	return record{
		Package:    outcome.Identifier.String(),
		Session:    outcome.Session,
		Operation:  string(outcome.Operation),
		ExitCode:   outcome.ExitCode,
		Error:      outcome.Error,
		FinishedAt: outcome.FinishedAt.UTC(),
	}
}
