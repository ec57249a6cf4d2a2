package jobs

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"

	"github.com/SuryaSriramD/CodeAgentTool/internal/source"
	"github.com/SuryaSriramD/CodeAgentTool/models"
)

// Request is a scan submission. Exactly one of RepoURL and Archive is set.
type Request struct {
	RepoURL string `json:"github_url,omitempty" validate:"required_without=Archive,excluded_with=Archive,omitempty,url,startswith=https://"`
	Ref     string `json:"ref,omitempty"        validate:"omitempty,max=255,gitref"`
	Commit  string `json:"commit,omitempty"     validate:"omitempty,hexadecimal,min=7,max=40"`
	// Archive holds uploaded zip bytes. It is never persisted.
	Archive     []byte   `json:"-"                      validate:"required_without=RepoURL"`
	ArchiveName string   `json:"archive_name,omitempty" validate:"omitempty,max=255"`
	HasArchive  bool     `json:"has_archive,omitempty"`
	Analyzers   []string `json:"analyzers,omitempty"    validate:"omitempty,max=16,dive,analyzer"`
	Include     []string `json:"include,omitempty"      validate:"omitempty,max=64,dive,glob"`
	Exclude     []string `json:"exclude,omitempty"      validate:"omitempty,max=64,dive,glob"`
	TimeoutSec  int      `json:"timeout_sec,omitempty"  validate:"omitempty,min=1,max=3600"`
	Labels      []string `json:"labels,omitempty"       validate:"omitempty,max=20,dive,label"`
}

var (
	analyzerNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	labelRe        = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]{0,63}$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		mustRegister(v, "analyzer", func(fl validator.FieldLevel) bool {
			return analyzerNameRe.MatchString(fl.Field().String())
		})
		mustRegister(v, "label", func(fl validator.FieldLevel) bool {
			return labelRe.MatchString(fl.Field().String())
		})
		mustRegister(v, "glob", func(fl validator.FieldLevel) bool {
			p := fl.Field().String()
			return p != "" && doublestar.ValidatePattern(p)
		})
		mustRegister(v, "gitref", func(fl validator.FieldLevel) bool {
			return validRef(fl.Field().String())
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering %s validation: %v", tag, err))
	}
}

// validRef applies the subset of git's ref-name rules that matter for clone.
func validRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "-") || strings.HasPrefix(ref, "/") ||
		strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".lock") || strings.Contains(ref, "..") {
		return false
	}
	return !strings.ContainsAny(ref, " ~^:?*[\\\t\n")
}

// Normalize trims whitespace, drops empty list entries and collapses
// duplicate analyzer and label names.
func (r *Request) Normalize() {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.Ref = strings.TrimSpace(r.Ref)
	r.Commit = strings.ToLower(strings.TrimSpace(r.Commit))
	r.Analyzers = cleanList(r.Analyzers, true)
	r.Include = cleanList(r.Include, false)
	r.Exclude = cleanList(r.Exclude, false)
	r.Labels = cleanList(r.Labels, true)
	if len(r.Archive) == 0 {
		r.Archive = nil
	}
	r.HasArchive = r.Archive != nil
}

func cleanList(in []string, dedup bool) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || (dedup && slices.Contains(out, s)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Validate checks r and returns an error wrapping ErrInvalidRequest.
func (r *Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if m := describe(fe); !slices.Contains(msgs, m) {
			msgs = append(msgs, m)
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required_without":
		return "exactly one of github_url or file is required"
	case "excluded_with":
		return "github_url and file are mutually exclusive"
	case "url", "startswith":
		return "github_url must be an https URL"
	case "analyzer":
		return fmt.Sprintf("invalid analyzer name %q", fe.Value())
	case "label":
		return fmt.Sprintf("invalid label %q", fe.Value())
	case "glob":
		return fmt.Sprintf("invalid glob pattern %q", fe.Value())
	case "gitref":
		return fmt.Sprintf("invalid ref %q", fe.Value())
	case "hexadecimal":
		return "commit must be a hexadecimal SHA"
	case "min", "max":
		return fmt.Sprintf("%s is out of range (%s %s)", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Clone copies r including archive bytes.
func (r Request) Clone() Request {
	out := r
	out.Archive = slices.Clone(r.Archive)
	out.Analyzers = slices.Clone(r.Analyzers)
	out.Include = slices.Clone(r.Include)
	out.Exclude = slices.Clone(r.Exclude)
	out.Labels = slices.Clone(r.Labels)
	return out
}

// Timeout is the per-analyzer timeout requested, or fallback.
func (r *Request) Timeout(fallback time.Duration) time.Duration {
	if r.TimeoutSec > 0 {
		return time.Duration(r.TimeoutSec) * time.Second
	}
	return fallback
}

// SourceSpec converts r into the provider's source description.
func (r *Request) SourceSpec() source.Spec {
	if r.HasArchive || len(r.Archive) > 0 {
		return source.Spec{Kind: source.KindArchive, Archive: r.Archive}
	}
	return source.Spec{Kind: source.KindGit, URL: r.RepoURL, Ref: r.Ref, Commit: r.Commit}
}

// RepoInfo is the report provenance for r.
func (r *Request) RepoInfo(commit string) models.RepoInfo {
	if r.HasArchive || len(r.Archive) > 0 {
		return models.RepoInfo{Source: "zip", URL: r.ArchiveName}
	}
	if commit == "" {
		commit = r.Commit
	}
	return models.RepoInfo{Source: "github", URL: r.RepoURL, Ref: r.Ref, Commit: commit}
}
