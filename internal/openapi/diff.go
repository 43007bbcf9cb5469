package openapi

import (
	"fmt"
	"reflect"
)

// Change captures both sides of a modified entry.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// SpecDiff is the structural difference between two documents, computed
// over top-level path items and component schemas.
type SpecDiff struct {
	AddedPaths      map[string]any    `json:"added_paths,omitempty"`
	RemovedPaths    map[string]any    `json:"removed_paths,omitempty"`
	ModifiedPaths   map[string]Change `json:"modified_paths,omitempty"`
	AddedSchemas    map[string]any    `json:"added_schemas,omitempty"`
	RemovedSchemas  map[string]any    `json:"removed_schemas,omitempty"`
	ModifiedSchemas map[string]Change `json:"modified_schemas,omitempty"`
}

// Diff compares two documents. A nil old document means everything in the
// new document counts as added.
func Diff(old, new Document) SpecDiff {
	var oldPaths, oldSchemas map[string]any
	if old != nil {
		oldPaths = old.Paths()
		oldSchemas = old.Schemas()
	}
	d := SpecDiff{}
	d.AddedPaths, d.RemovedPaths, d.ModifiedPaths = diffMaps(oldPaths, new.Paths())
	d.AddedSchemas, d.RemovedSchemas, d.ModifiedSchemas = diffMaps(oldSchemas, new.Schemas())
	return d
}

func diffMaps(old, new map[string]any) (added, removed map[string]any, modified map[string]Change) {
	added = map[string]any{}
	removed = map[string]any{}
	modified = map[string]Change{}
	for k, nv := range new {
		ov, ok := old[k]
		switch {
		case !ok:
			added[k] = nv
		case !reflect.DeepEqual(ov, nv):
			modified[k] = Change{Old: ov, New: nv}
		}
	}
	for k, ov := range old {
		if _, ok := new[k]; !ok {
			removed[k] = ov
		}
	}
	return added, removed, modified
}

// Empty reports whether nothing changed.
func (d SpecDiff) Empty() bool {
	return len(d.AddedPaths) == 0 && len(d.RemovedPaths) == 0 && len(d.ModifiedPaths) == 0 &&
		len(d.AddedSchemas) == 0 && len(d.RemovedSchemas) == 0 && len(d.ModifiedSchemas) == 0
}

// ChangedPaths returns the paths that are new or modified, with their new
// definitions. These are the entries worth re-describing.
func (d SpecDiff) ChangedPaths() map[string]any {
	res := map[string]any{}
	for k, v := range d.AddedPaths {
		res[k] = v
	}
	for k, c := range d.ModifiedPaths {
		res[k] = c.New
	}
	return res
}

// Summary renders a short human-readable account of the diff.
func (d SpecDiff) Summary() string {
	return fmt.Sprintf("paths +%d -%d ~%d, schemas +%d -%d ~%d",
		len(d.AddedPaths), len(d.RemovedPaths), len(d.ModifiedPaths),
		len(d.AddedSchemas), len(d.RemovedSchemas), len(d.ModifiedSchemas))
}
