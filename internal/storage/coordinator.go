// Package storage maps work-item names onto isolated subpaths of the shared
// volume. Isolation between concurrent executions is purely by namespace:
// distinct names never resolve to overlapping paths.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"conveyor/internal/services"
)

// MaxWorkItemNameLength bounds work-item names to keep paths and job names
// within provider limits.
const MaxWorkItemNameLength = 128

var workItemNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateWorkItemName rejects names that are empty, too long, or contain
// characters outside the safe set. The leading character must be
// alphanumeric so names can never form dot-segments.
func ValidateWorkItemName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return services.Wrap(services.ErrValidation, "storage", "validate name", "work item name is empty", nil)
	}
	if trimmed != name {
		return services.Wrap(services.ErrValidation, "storage", "validate name", "work item name has surrounding whitespace", nil)
	}
	if len(name) > MaxWorkItemNameLength {
		return services.Wrap(services.ErrValidation, "storage", "validate name",
			fmt.Sprintf("work item name exceeds %d characters", MaxWorkItemNameLength), nil)
	}
	if !workItemNamePattern.MatchString(name) {
		return services.Wrap(services.ErrValidation, "storage", "validate name",
			fmt.Sprintf("work item name %q contains disallowed characters", name), nil)
	}
	return nil
}

// Coordinator resolves work-item names to paths beneath the shared volume
// root. It is a pure mapping and safe for concurrent use.
type Coordinator struct {
	root string
}

// NewCoordinator builds a coordinator rooted at the shared volume mount.
func NewCoordinator(root string) (*Coordinator, error) {
	cleaned := filepath.Clean(strings.TrimSpace(root))
	if cleaned == "" || cleaned == "." {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new coordinator", "volume root is empty", nil)
	}
	return &Coordinator{root: cleaned}, nil
}

// Root returns the shared volume root.
func (c *Coordinator) Root() string {
	return c.root
}

// WorkItemPath returns the isolated subpath for a work item.
func (c *Coordinator) WorkItemPath(name string) (string, error) {
	if err := ValidateWorkItemName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.root, name), nil
}

// LogTarget returns the per-stage worker log path for a work item.
func (c *Coordinator) LogTarget(name, role string) (string, error) {
	base, err := c.WorkItemPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "logs", role+".log"), nil
}

// EnsureWorkspace creates the work item's directory tree and returns its
// root.
func (c *Coordinator) EnsureWorkspace(name string) (string, error) {
	base, err := c.WorkItemPath(name)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{base, filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create workspace %s: %w", dir, err)
		}
	}
	return base, nil
}
