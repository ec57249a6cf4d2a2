package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// ErrNotFound is returned when no report exists for a job id.
var ErrNotFound = errors.New("report not found")

const (
	enhancedSuffix = "_enhanced.json"
	stagedSuffix   = ".tmp"
)

// Store persists reports as <dir>/<job_id>.json.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir (created on first write).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir is the directory reports are written to.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func validID(id string) bool {
	return id != "" && filepath.Base(id) == id && !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, `/\`)
}

// Stage writes r to a temporary file next to its final location and returns
// the staged path. Nothing is visible to readers until Commit.
func (s *Store) Stage(r *models.Report) (string, error) {
	if !validID(r.JobID) {
		return "", fmt.Errorf("invalid report id %q", r.JobID)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialising report: %w", err)
	}
	f, err := os.CreateTemp(s.dir, "."+r.JobID+"-*"+stagedSuffix)
	if err != nil {
		return "", fmt.Errorf("staging report: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("staging report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("staging report: %w", err)
	}
	return f.Name(), nil
}

// Commit atomically moves a staged report into place.
func (s *Store) Commit(staged, id string) error {
	if err := os.Rename(staged, s.path(id)); err != nil {
		os.Remove(staged)
		return fmt.Errorf("committing report %s: %w", id, err)
	}
	return nil
}

// Discard removes a staged report that will never be committed.
func (s *Store) Discard(staged string) {
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to discard staged report", "path", staged, "error", err)
	}
}

// Save stages and commits r in one step.
func (s *Store) Save(r *models.Report) error {
	staged, err := s.Stage(r)
	if err != nil {
		return err
	}
	return s.Commit(staged, r.JobID)
}

// Load reads the report for id.
func (s *Store) Load(id string) (*models.Report, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading report %s: %w", id, err)
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", id, err)
	}
	return &r, nil
}

// Exists reports whether a committed report exists for id.
func (s *Store) Exists(id string) bool {
	if !validID(id) {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Summary returns only the severity counts of a report.
func (s *Store) Summary(id string) (models.SeveritySummary, error) {
	r, err := s.Load(id)
	if err != nil {
		return models.SeveritySummary{}, err
	}
	return r.Summary, nil
}

// SaveEnhanced stores an opaque enhanced artifact alongside report id.
func (s *Store) SaveEnhanced(id string, raw json.RawMessage) error {
	if !s.Exists(id) {
		return ErrNotFound
	}
	if !json.Valid(raw) {
		return fmt.Errorf("enhanced report for %s is not valid JSON", id)
	}
	p := filepath.Join(s.dir, id+enhancedSuffix)
	tmp := p + stagedSuffix
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("writing enhanced report: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing enhanced report: %w", err)
	}
	return nil
}

// LoadEnhanced returns the enhanced artifact for id.
func (s *Store) LoadEnhanced(id string) (json.RawMessage, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id+enhancedSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading enhanced report %s: %w", id, err)
	}
	return data, nil
}

// ListItem is the lightweight view of a report used by listings.
type ListItem struct {
	JobID       string                 `json:"job_id"       yaml:"job_id"`
	RepoURL     string                 `json:"repo_url"     yaml:"repo_url"`
	GeneratedAt time.Time              `json:"generated_at" yaml:"generated_at"`
	Summary     models.SeveritySummary `json:"summary"      yaml:"summary"`
	Tools       []string               `json:"tools"        yaml:"tools"`
	Labels      []string               `json:"labels"       yaml:"labels"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Page  int
	Limit int
	// Severity keeps reports with at least one issue of this level.
	Severity models.Severity
	Tool     string
	// Repo matches a substring of the repository URL.
	Repo  string
	Label string
	Since time.Time
	Until time.Time
}

// Page is one page of a listing.
type Page struct {
	Items []ListItem `json:"items"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Total int        `json:"total"`
}

// List returns reports matching f, newest first. Unreadable files are
// logged and skipped.
func (s *Store) List(f Filter) (Page, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	page := Page{Items: []ListItem{}, Page: f.Page, Limit: f.Limit}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return page, nil
		}
		return page, fmt.Errorf("listing reports: %w", err)
	}

	var items []ListItem
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") ||
			strings.HasSuffix(name, enhancedSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("Failed to load report", "file", name, "error", err)
			continue
		}
		if !f.matches(r) {
			continue
		}
		items = append(items, ListItem{
			JobID:       r.JobID,
			RepoURL:     r.Meta.Repo.URL,
			GeneratedAt: r.Meta.GeneratedAt,
			Summary:     r.Summary,
			Tools:       r.Meta.Tools,
			Labels:      r.Meta.Labels,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].GeneratedAt.After(items[j].GeneratedAt)
	})

	page.Total = len(items)
	// Compare page indexes so huge page numbers cannot overflow the offset.
	if len(items) == 0 || f.Page-1 > (len(items)-1)/f.Limit {
		return page, nil
	}
	start := (f.Page - 1) * f.Limit
	end := min(start+f.Limit, len(items))
	page.Items = items[start:end]
	return page, nil
}

func (f Filter) matches(r *models.Report) bool {
	if f.Severity != "" && r.Summary.Count(f.Severity) == 0 {
		return false
	}
	if f.Tool != "" && !slices.Contains(r.Meta.Tools, f.Tool) {
		return false
	}
	if f.Repo != "" && !strings.Contains(r.Meta.Repo.URL, f.Repo) {
		return false
	}
	if f.Label != "" && !slices.Contains(r.Meta.Labels, f.Label) {
		return false
	}
	if !f.Since.IsZero() && r.Meta.GeneratedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.Meta.GeneratedAt.After(f.Until) {
		return false
	}
	return true
}
