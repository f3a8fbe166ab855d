package analysis

import (
	"fmt"

	"github.com/samber/lo"
)

// ChangeSet is the atomic delta delivered to a driver. The three lists are
// pairwise disjoint and free of duplicates.
type ChangeSet struct {
	Added   []string
	Changed []string
	Removed []string
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

// AddedSource records path as newly added, unless it is already present in
// any list.
func (c *ChangeSet) AddedSource(path string) {
	if c.contains(path) {
		return
	}
	c.Added = append(c.Added, path)
}

// ChangedSource records path as modified, unless it is already present in
// any list.
func (c *ChangeSet) ChangedSource(path string) {
	if c.contains(path) {
		return
	}
	c.Changed = append(c.Changed, path)
}

// RemovedSource records path as removed, unless it is already present in any
// list.
func (c *ChangeSet) RemovedSource(path string) {
	if c.contains(path) {
		return
	}
	c.Removed = append(c.Removed, path)
}

// IsEmpty reports whether the ChangeSet carries no paths at all.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

func (c *ChangeSet) contains(path string) bool {
	return lo.Contains(c.Added, path) || lo.Contains(c.Changed, path) || lo.Contains(c.Removed, path)
}

func (c *ChangeSet) String() string {
	return fmt.Sprintf("ChangeSet(added: %d, changed: %d, removed: %d)", len(c.Added), len(c.Changed), len(c.Removed))
}
