package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
)

// familyKeys maps each capability family in a fingerprint document to the
// item field that identifies entries within it.
var familyKeys = []struct {
	Family string
	Key    string
}{
	{"tools", "name"},
	{"resources", "uri"},
	{"resource_templates", "uriTemplate"},
	{"prompts", "name"},
}

// FamilyDiff summarizes how one capability family changed between two
// snapshots.
type FamilyDiff struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Common   []string `json:"common"`
	CountOld int      `json:"count_old"`
	CountNew int      `json:"count_new"`
}

// Diff is the structural comparison of two snapshot documents, keyed by
// family. Changed is true when any family gained or lost an entry or when
// the documents differ byte-wise (covering in-place schema edits that keep
// the identity keys stable).
type Diff struct {
	Changed  bool                   `json:"changed"`
	Families map[string]*FamilyDiff `json:"families"`
}

// ComputeDiff compares two canonical snapshot documents.
func ComputeDiff(oldJSON, newJSON string) (*Diff, error) {
	oldDoc, err := parseFamilies(oldJSON)
	if err != nil {
		return nil, fmt.Errorf("parse old snapshot: %w", err)
	}
	newDoc, err := parseFamilies(newJSON)
	if err != nil {
		return nil, fmt.Errorf("parse new snapshot: %w", err)
	}

	d := &Diff{
		Changed:  oldJSON != newJSON,
		Families: make(map[string]*FamilyDiff, len(familyKeys)),
	}
	for _, fk := range familyKeys {
		oldItems := oldDoc[fk.Family]
		newItems := newDoc[fk.Family]
		oldKeys := keySet(oldItems, fk.Key)
		newKeys := keySet(newItems, fk.Key)

		fd := &FamilyDiff{
			Added:    []string{},
			Removed:  []string{},
			Common:   []string{},
			CountOld: len(oldItems),
			CountNew: len(newItems),
		}
		for k := range newKeys {
			if _, ok := oldKeys[k]; ok {
				fd.Common = append(fd.Common, k)
			} else {
				fd.Added = append(fd.Added, k)
			}
		}
		for k := range oldKeys {
			if _, ok := newKeys[k]; !ok {
				fd.Removed = append(fd.Removed, k)
			}
		}
		sort.Strings(fd.Added)
		sort.Strings(fd.Removed)
		sort.Strings(fd.Common)
		d.Families[fk.Family] = fd
	}
	return d, nil
}

func parseFamilies(doc string) (map[string][]map[string]any, error) {
	var out map[string][]map[string]any
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func keySet(items []map[string]any, key string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if s, ok := item[key].(string); ok {
			set[s] = struct{}{}
		}
	}
	return set
}
