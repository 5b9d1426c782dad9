package native

import (
	"errors"
	"regexp"
	"strings"
)

// PacmanErrorType classifies a pacman failure.
type PacmanErrorType int

const (
	PacmanErrorUnknown PacmanErrorType = iota
	PacmanErrorDependencyConflict
	PacmanErrorPackageNotFound
	PacmanErrorDatabaseLocked
	PacmanErrorFileConflict
)

// PacmanError is a failed pacman run, classified from its stderr.
type PacmanError struct {
	ErrorType   PacmanErrorType
	RawOutput   string
	Packages    []string // affected packages
	OriginalErr error
	Suggestion  string
}

// Error implements the error interface.
func (e *PacmanError) Error() string {
	if p := e.Problems(); len(p) > 0 {
		return strings.Join(p, "; ")
	}
	if e.OriginalErr != nil {
		return e.OriginalErr.Error()
	}
	return e.RawOutput
}

// Unwrap returns the original error.
func (e *PacmanError) Unwrap() error {
	return e.OriginalErr
}

// IsDependencyConflict returns true if this is a dependency conflict error.
func (e *PacmanError) IsDependencyConflict() bool {
	return e.ErrorType == PacmanErrorDependencyConflict
}

// Problems returns the reasons pacman gave, one per line of its error
// output, with the "error: " and ":: " prefixes removed. File conflicts
// are kept as printed. Generic "failed to ..." summary lines are dropped
// when more specific lines follow.
func (e *PacmanError) Problems() []string {
	var summary, detail []string
	for _, line := range strings.Split(e.RawOutput, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "error: "):
			msg := strings.TrimPrefix(line, "error: ")
			if strings.HasPrefix(msg, "failed to ") {
				summary = append(summary, msg)
			} else {
				detail = append(detail, msg)
			}
		case strings.HasPrefix(line, ":: "):
			detail = append(detail, strings.TrimPrefix(line, ":: "))
		case fileConflictPattern.MatchString(line):
			detail = append(detail, line)
		}
	}
	if len(detail) > 0 {
		return detail
	}
	return summary
}

var (
	// "error: failed to prepare transaction (could not satisfy dependencies)"
	dependencyFailurePattern = regexp.MustCompile(`failed to prepare transaction.*could not satisfy dependencies`)

	// ":: installing pkg (1.2.3-4) breaks dependency 'pkg=1.2.3-1' required by other-pkg"
	breaksDepPattern = regexp.MustCompile(`:: installing (\S+) .* breaks dependency .* required by (\S+)`)

	// ":: unable to satisfy dependency 'libfoo.so=1-64' required by pkg"
	unsatisfiedPattern = regexp.MustCompile(`unable to satisfy dependency '([^']+)' required by (\S+)`)

	// ":: pkg and other-pkg are in conflict"
	conflictPattern = regexp.MustCompile(`:: (\S+) and (\S+) are in conflict`)

	// "error: target not found: pkg"
	notFoundPattern = regexp.MustCompile(`error: target not found: (\S+)`)

	// "error: failed to init transaction (unable to lock database)"
	dbLockedPattern = regexp.MustCompile(`failed to init transaction.*unable to lock database`)

	// "pkg: /usr/bin/foo exists in filesystem"
	fileConflictPattern = regexp.MustCompile(`(\S+): (\S+) exists in filesystem`)
)

// ParsePacmanError parses pacman stderr output and returns a structured error.
// If the error is not a known pacman error type, it returns nil.
func ParsePacmanError(stderr string, originalErr error) *PacmanError {
	if stderr == "" && originalErr == nil {
		return nil
	}

	pacErr := &PacmanError{
		ErrorType:   PacmanErrorUnknown,
		RawOutput:   stderr,
		OriginalErr: originalErr,
	}

	if dependencyFailurePattern.MatchString(stderr) || unsatisfiedPattern.MatchString(stderr) {
		pacErr.ErrorType = PacmanErrorDependencyConflict
		pacErr.Packages = extractAffectedPackages(stderr)
		pacErr.Suggestion = "Refresh the package databases and upgrade the system first"
		return pacErr
	}

	if conflictPattern.MatchString(stderr) {
		pacErr.ErrorType = PacmanErrorDependencyConflict
		pacErr.Packages = extractAffectedPackages(stderr)
		pacErr.Suggestion = "Allow erasing of conflicting packages"
		return pacErr
	}

	if matches := notFoundPattern.FindAllStringSubmatch(stderr, -1); len(matches) > 0 {
		pacErr.ErrorType = PacmanErrorPackageNotFound
		for _, m := range matches {
			pacErr.Packages = append(pacErr.Packages, m[1])
		}
		return pacErr
	}

	if dbLockedPattern.MatchString(stderr) {
		pacErr.ErrorType = PacmanErrorDatabaseLocked
		pacErr.Suggestion = "Another package manager may be running. Wait for it to finish or repair the system"
		return pacErr
	}

	if matches := fileConflictPattern.FindAllStringSubmatch(stderr, -1); len(matches) > 0 {
		pacErr.ErrorType = PacmanErrorFileConflict
		seen := make(map[string]bool)
		for _, m := range matches {
			if !seen[m[1]] {
				pacErr.Packages = append(pacErr.Packages, m[1])
				seen[m[1]] = true
			}
		}
		return pacErr
	}

	return nil
}

// extractAffectedPackages extracts package names from dependency conflict messages.
func extractAffectedPackages(stderr string) []string {
	seen := make(map[string]bool)
	var packages []string
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] {
				packages = append(packages, n)
				seen[n] = true
			}
		}
	}

	for _, m := range breaksDepPattern.FindAllStringSubmatch(stderr, -1) {
		add(m[1], m[2])
	}
	for _, m := range unsatisfiedPattern.FindAllStringSubmatch(stderr, -1) {
		add(m[2])
	}
	for _, m := range conflictPattern.FindAllStringSubmatch(stderr, -1) {
		add(m[1], m[2])
	}
	return packages
}

// IsPacmanDependencyConflict checks if an error is a pacman dependency conflict.
func IsPacmanDependencyConflict(err error) (*PacmanError, bool) {
	var pacErr *PacmanError
	if errors.As(err, &pacErr) && pacErr.IsDependencyConflict() {
		return pacErr, true
	}
	return nil, false
}

// problemsOf turns a failed run into the problem list a resolution or
// commit reports.
func problemsOf(stderr string, err error) []string {
	if pacErr := ParsePacmanError(stderr, err); pacErr != nil {
		if p := pacErr.Problems(); len(p) > 0 {
			return p
		}
	}
	if p := (&PacmanError{RawOutput: stderr}).Problems(); len(p) > 0 {
		return p
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return []string{msg}
	}
	return []string{err.Error()}
}
