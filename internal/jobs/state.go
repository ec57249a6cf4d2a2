package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// record is the persisted form of a job: <dir>/<job_id>.json.
type record struct {
	models.JobInfo
	Request *Request `json:"request,omitempty"`
}

type stateStore struct {
	dir string
}

func newStateStore(dir string) *stateStore {
	return &stateStore{dir: dir}
}

func (s *stateStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func validJobID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

func (s *stateStore) save(rec record) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising job %s: %w", rec.JobID, err)
	}
	f, err := os.CreateTemp(s.dir, "."+rec.JobID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("writing job %s: %w", rec.JobID, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("writing job %s: %w", rec.JobID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("writing job %s: %w", rec.JobID, err)
	}
	if err := os.Rename(f.Name(), s.path(rec.JobID)); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("writing job %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *stateStore) load(id string) (record, error) {
	if !validJobID(id) {
		return record{}, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return record{}, ErrNotFound
		}
		return record{}, fmt.Errorf("reading job %s: %w", id, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("parsing job %s: %w", id, err)
	}
	if rec.JobID == "" {
		rec.JobID = id
	}
	return rec, nil
}

func (s *stateStore) remove(id string) error {
	if !validJobID(id) {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// list returns every readable persisted record. Corrupt files are logged.
func (s *stateStore) list() []record {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to list job state", "dir", s.dir, "error", err)
		}
		return nil
	}
	var out []record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("Skipping unreadable job state", "file", name, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
