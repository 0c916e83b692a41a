package packager

import (
	"errors"
	"fmt"
	"strings"

	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"
)

// UnknownAuthor is used when neither the entry nor the team names an author.
const UnknownAuthor = "UnknownAuthor"

// ErrUnresolvedDependencies is wrapped by *UnresolvedDependencyError.
var ErrUnresolvedDependencies = errors.New("unresolved dependencies")

// PendingReason says why a dependency could not be turned into a manifest string.
type PendingReason string

const (
	ReasonNotConfigured PendingReason = "not configured"
	ReasonNotProcessed  PendingReason = "not processed yet"
)

// PendingDependency is a declared dependency that is left out of the manifest.
type PendingDependency struct {
	Name   string
	Reason PendingReason
}

func (p PendingDependency) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Reason)
}

// UnresolvedDependencyError blocks packaging when pending dependencies are not allowed.
type UnresolvedDependencyError struct {
	Mod     string
	Pending []PendingDependency
}

func (e *UnresolvedDependencyError) Error() string {
	parts := make([]string, len(e.Pending))
	for i, p := range e.Pending {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%s: %v: %s", e.Mod, ErrUnresolvedDependencies, strings.Join(parts, ", "))
}

func (e *UnresolvedDependencyError) Unwrap() error { return ErrUnresolvedDependencies }

// FormatDependency builds the Thunderstore author-name-version identifier.
func FormatDependency(author, name, version string) string {
	return helpers.PackageName(author) + "-" + helpers.PackageName(name) + "-" + version
}

// ResolveDependencies maps the entry's declared dependency names onto sibling
// entries. Only siblings with a processed version resolve; the rest are pending.
// fallbackAuthor is used for siblings without an author.
func ResolveDependencies(entry models.ModEntry, all []models.ModEntry, fallbackAuthor string) ([]string, []PendingDependency) {
	if fallbackAuthor == "" {
		fallbackAuthor = UnknownAuthor
	}

	resolved := []string{}
	var pending []PendingDependency
	for _, depName := range entry.Dependencies {
		dep, ok := findByName(all, depName)
		switch {
		case !ok:
			pending = append(pending, PendingDependency{Name: depName, Reason: ReasonNotConfigured})
		case !dep.HasProcessedVersion():
			pending = append(pending, PendingDependency{Name: depName, Reason: ReasonNotProcessed})
		default:
			resolved = append(resolved, FormatDependency(dep.ResolvedAuthor(fallbackAuthor), dep.Name, dep.ProcessedVersion()))
		}
	}
	return resolved, pending
}

func findByName(all []models.ModEntry, name string) (models.ModEntry, bool) {
	for _, e := range all {
		if e.Name == name {
			return e, true
		}
	}
	return models.ModEntry{}, false
}
