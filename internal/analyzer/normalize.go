package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// RelativePath rewrites a tool-reported path relative to workspace.
// Paths under the docker mount map to the workspace root. Absolute paths
// outside the workspace are returned unchanged.
func RelativePath(p, workspace string) string {
	if p == "" {
		return p
	}
	slashed := filepath.ToSlash(p)
	if slashed == dockerMount {
		return "."
	}
	if strings.HasPrefix(slashed, dockerMount+"/") {
		return strings.TrimPrefix(slashed, dockerMount+"/")
	}
	if !filepath.IsAbs(p) {
		return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(p)), "./")
	}
	if workspace == "" {
		return p
	}
	rel, err := filepath.Rel(workspace, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		// Symlinked temp roots (e.g. /var -> /private/var) still count as inside.
		if resolved, rerr := filepath.EvalSymlinks(workspace); rerr == nil && resolved != workspace {
			return RelativePath(p, resolved)
		}
		return p
	}
	return filepath.ToSlash(rel)
}

// looseString accepts a JSON string, number or null.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = looseString(num.String())
		return nil
	}
	return fmt.Errorf("unsupported string JSON shape: %s", string(data))
}

// stringList tolerates schema drift where fields may be a string,
// array of strings, null, or omitted.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}
	return fmt.Errorf("unsupported string-list JSON shape: %s", string(data))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
