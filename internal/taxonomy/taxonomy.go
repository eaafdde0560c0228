// Package taxonomy loads the hierarchical annotation-type tree and
// answers "is this type valid" for the annotation engine. The raw tree
// arrives as loosely-shaped JSON (or YAML for the bundled server copy);
// it is parsed once into a typed tree at the loading boundary instead of
// shape-checked ad hoc at every validation.
package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"textmark/internal/models"
)

// Navigation modes of the annotation UI. In table-of-contents mode the
// structural types become valid in addition to taxonomy leaves.
const (
	NavigationDefault = "default"
	NavigationTOC     = "toc"
)

// structuralTypes are recognized only in table-of-contents navigation.
var structuralTypes = map[string]struct{}{
	"title":      {},
	"section":    {},
	"subsection": {},
	"paragraph":  {},
}

// Category is one node of the taxonomy tree. A node with no
// subcategories is a leaf and names a valid annotation type.
type Category struct {
	Key           string     `json:"key" yaml:"key"`
	Name          string     `json:"name" yaml:"name"`
	Subcategories []Category `json:"subcategories,omitempty" yaml:"subcategories,omitempty"`
}

// Tree is a parsed taxonomy for one annotation-list type.
type Tree struct {
	ListType   string     `json:"list_type" yaml:"list_type"`
	Categories []Category `json:"categories" yaml:"categories"`
}

// Leaves returns the set of leaf type keys, sorted.
func (t *Tree) Leaves() []string {
	var out []string
	var walk func(cs []Category)
	walk = func(cs []Category) {
		for _, c := range cs {
			if len(c.Subcategories) == 0 {
				out = append(out, c.Key)
				continue
			}
			walk(c.Subcategories)
		}
	}
	walk(t.Categories)
	sort.Strings(out)
	return out
}

// ParseTree decodes a loosely-shaped JSON document into a typed tree.
// Nodes may be objects with key/name/subcategories, or bare strings that
// stand for a leaf key.
func ParseTree(listType string, raw json.RawMessage) (*Tree, error) {
	var nodes []json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		// Allow the wrapped form {"categories": [...]}.
		var wrapped struct {
			Categories []json.RawMessage `json:"categories"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil || wrapped.Categories == nil {
			return nil, fmt.Errorf("taxonomy %q: not a category list: %w", listType, err)
		}
		nodes = wrapped.Categories
	}

	cats := make([]Category, 0, len(nodes))
	for i, n := range nodes {
		c, err := parseNode(n)
		if err != nil {
			return nil, fmt.Errorf("taxonomy %q: node %d: %w", listType, i, err)
		}
		cats = append(cats, c)
	}
	return &Tree{ListType: listType, Categories: cats}, nil
}

func parseNode(raw json.RawMessage) (Category, error) {
	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		if key == "" {
			return Category{}, fmt.Errorf("empty leaf key")
		}
		return Category{Key: key, Name: key}, nil
	}

	var obj struct {
		Key           string            `json:"key"`
		Name          string            `json:"name"`
		Subcategories []json.RawMessage `json:"subcategories"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Category{}, fmt.Errorf("neither string nor object: %w", err)
	}
	if obj.Key == "" {
		obj.Key = obj.Name
	}
	if obj.Key == "" {
		return Category{}, fmt.Errorf("category without key or name")
	}
	c := Category{Key: obj.Key, Name: obj.Name}
	for i, sub := range obj.Subcategories {
		sc, err := parseNode(sub)
		if err != nil {
			return Category{}, fmt.Errorf("subcategory %d: %w", i, err)
		}
		c.Subcategories = append(c.Subcategories, sc)
	}
	return c, nil
}

// Source fetches the raw taxonomy document for a list type. The remote
// store client satisfies this.
type Source interface {
	GetTaxonomy(ctx context.Context, listType string) (json.RawMessage, error)
}

// Validator holds lazily-loaded trees plus session-scoped custom
// options, and decides type validity.
type Validator struct {
	source Source

	mu      sync.Mutex
	trees   map[string]*Tree
	leaves  map[string]map[string]struct{}
	customs map[string]map[string]struct{}
}

func NewValidator(source Source) *Validator {
	return &Validator{
		source:  source,
		trees:   make(map[string]*Tree),
		leaves:  make(map[string]map[string]struct{}),
		customs: make(map[string]map[string]struct{}),
	}
}

// Load fetches and parses the tree for listType if it is not cached yet.
func (v *Validator) Load(ctx context.Context, listType string) (*Tree, error) {
	v.mu.Lock()
	if t, ok := v.trees[listType]; ok {
		v.mu.Unlock()
		return t, nil
	}
	v.mu.Unlock()

	raw, err := v.source.GetTaxonomy(ctx, listType)
	if err != nil {
		return nil, fmt.Errorf("load taxonomy %q: %w", listType, err)
	}
	tree, err := ParseTree(listType, raw)
	if err != nil {
		return nil, err
	}

	leafSet := make(map[string]struct{})
	for _, l := range tree.Leaves() {
		leafSet[l] = struct{}{}
	}

	v.mu.Lock()
	v.trees[listType] = tree
	v.leaves[listType] = leafSet
	v.mu.Unlock()
	return tree, nil
}

// Seed installs an already-parsed tree, bypassing the source. Used by
// tests and by the server, which owns the bundled tree.
func (v *Validator) Seed(tree *Tree) {
	leafSet := make(map[string]struct{})
	for _, l := range tree.Leaves() {
		leafSet[l] = struct{}{}
	}
	v.mu.Lock()
	v.trees[tree.ListType] = tree
	v.leaves[tree.ListType] = leafSet
	v.mu.Unlock()
}

// RegisterCustom adds a user-defined type for one list type. Custom
// options live for the session only; they are never persisted.
func (v *Validator) RegisterCustom(listType, key string) {
	if key == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, ok := v.customs[listType]
	if !ok {
		set = make(map[string]struct{})
		v.customs[listType] = set
	}
	set[key] = struct{}{}
}

// IsValidType reports whether typ may be used for a new or updated
// annotation: header is always valid; structural types are valid in
// table-of-contents navigation; otherwise the type must be a leaf of the
// loaded tree for listType, or a registered custom option.
func (v *Validator) IsValidType(typ, navigationMode, listType string) bool {
	if typ == models.TypeHeader {
		return true
	}
	if navigationMode == NavigationTOC {
		if _, ok := structuralTypes[typ]; ok {
			return true
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if set, ok := v.leaves[listType]; ok {
		if _, ok := set[typ]; ok {
			return true
		}
	}
	if set, ok := v.customs[listType]; ok {
		if _, ok := set[typ]; ok {
			return true
		}
	}
	return false
}
