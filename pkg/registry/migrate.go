package registry

import (
	"bufio"
	"fmt"
	"strings"
)

// visitedKeySuffix marks the legacy keys this migration understands.
const visitedKeySuffix = ".visited"

// MigrationReport summarizes one MigrateLegacy run.
type MigrationReport struct {
	// Skipped is true when the whole migration was skipped because the
	// registry already carries an authoritative visited flag.
	Skipped bool

	// Applied lists the cities whose visited flag was set by this run.
	Applied []string

	// Unmatched lists parsed visited=true entries for cities not present
	// in the registry.
	Unmatched []string

	// IgnoredFalse lists parsed visited=false entries. The model has no
	// unmark operation, so these are recorded but never applied.
	IgnoredFalse []string

	// Errors holds per-entry parse failures. A bad entry never aborts
	// the rest of the migration.
	Errors []error
}

// Changed reports whether the run mutated any record.
func (m *MigrationReport) Changed() bool {
	return len(m.Applied) > 0
}

// MigrateLegacy imports the flat legacy key/value format, one entry per
// line:
//
//	<CityName>.Visited = true|false
//
// Blank lines, comments (# or ;) and section headers ([...]) are ignored,
// as are keys without the .Visited suffix.
//
// The migration is heuristically idempotent: if any record already has
// visited=true the import is assumed to have happened and the whole run
// is skipped. visited=false entries are parsed but intentionally not
// applied — there is no unmark operation.
func (r *Registry) MigrateLegacy(raw string) *MigrationReport {
	report := &MigrationReport{}

	if r.AnyVisited() {
		report.Skipped = true
		return report
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") ||
			strings.HasPrefix(line, "[") {
			continue
		}

		name, value, err := parseLegacyEntry(line)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		if name == "" {
			continue // not a .Visited key, none of our business
		}

		if !value {
			report.IgnoredFalse = append(report.IgnoredFalse, name)
			continue
		}

		visited := true
		city, err := r.MergeFields(name, Patch{Visited: &visited})
		if err != nil {
			report.Unmatched = append(report.Unmatched, name)
			continue
		}
		report.Applied = append(report.Applied, city.Name)
	}

	return report
}

// parseLegacyEntry splits one "key = value" line. Returns an empty name
// for keys that are not <CityName>.Visited.
func parseLegacyEntry(line string) (name string, value bool, err error) {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", false, fmt.Errorf("registry: legacy entry missing '=': %q", line)
	}
	key = strings.Trim(strings.TrimSpace(key), `"`)
	if !strings.HasSuffix(strings.ToLower(key), visitedKeySuffix) {
		return "", false, nil
	}
	name = strings.TrimSpace(key[:len(key)-len(visitedKeySuffix)])
	if name == "" {
		return "", false, fmt.Errorf("registry: legacy entry has empty city name: %q", line)
	}

	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes":
		return name, true, nil
	case "false", "0", "no":
		return name, false, nil
	default:
		return "", false, fmt.Errorf("registry: legacy entry has non-boolean value: %q", line)
	}
}
