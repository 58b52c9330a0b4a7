package manifest

import "sort"

// ChangeKind identifies which of the three diff operations a Change
// represents.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
	ChangeAlter
)

// Change is one entry in the list produced by Diff.
type Change struct {
	Kind    ChangeKind
	Name    string
	OldSpec ServiceSpec // set for ChangeAlter
	NewSpec ServiceSpec // set for ChangeAdd and ChangeAlter
}

// Diff computes the list of changes needed to move from oldManifest to
// newManifest: a Remove for every name present in old but not new, an Add
// for every name present in new but not old, and an Alter for every name
// present in both whose spec differs. Diff(m, m) always returns an empty
// slice. The order is deterministic (sorted by name), though callers
// should not depend on it for correctness.
func Diff(oldManifest, newManifest *Manifest) []Change {
	var changes []Change

	for name := range allNames(oldManifest, newManifest) {
		oldSpec, inOld := oldManifest.Services[name]
		newSpec, inNew := newManifest.Services[name]

		switch {
		case inOld && inNew:
			if !oldSpec.Equal(newSpec) {
				changes = append(changes, Change{Kind: ChangeAlter, Name: name, OldSpec: oldSpec, NewSpec: newSpec})
			}
		case inOld && !inNew:
			changes = append(changes, Change{Kind: ChangeRemove, Name: name, OldSpec: oldSpec})
		case !inOld && inNew:
			changes = append(changes, Change{Kind: ChangeAdd, Name: name, NewSpec: newSpec})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

func allNames(a, b *Manifest) map[string]struct{} {
	names := make(map[string]struct{}, len(a.Services)+len(b.Services))
	for name := range a.Services {
		names[name] = struct{}{}
	}
	for name := range b.Services {
		names[name] = struct{}{}
	}
	return names
}
