package dispatch

import (
	"sort"

	"github.com/tabgate/tabgate/types"
)

// Entry describes one operation known to the gateway: which handler category
// services it and whether its result may be served from the result cache.
type Entry struct {
	Category  types.Category
	Cacheable bool
}

// Manifest is the declarative operation → category mapping. It is assembled
// once at startup and validated as it is built: a name registered twice with
// conflicting entries fails construction instead of silently winning by
// registration order.
type Manifest struct {
	entries map[string]Entry
}

func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]Entry)}
}

func (m *Manifest) Register(name string, category types.Category, cacheable bool) error {
	if name == "" {
		return types.NewErrorf("operation name is empty")
	}
	if !category.Valid() {
		return types.Errorf(types.ErrUnknownCategory, "operation %q declares category %q", name, category)
	}

	if existing, exists := m.entries[name]; exists {
		if existing.Category != category || existing.Cacheable != cacheable {
			return types.Errorf(types.ErrManifestConflict,
				"operation %q already registered with category %q", name, existing.Category)
		}
		return nil
	}

	m.entries[name] = Entry{Category: category, Cacheable: cacheable}
	return nil
}

// Classify is pure and total: names absent from the manifest fall back to the
// default category rather than failing.
func (m *Manifest) Classify(name string) types.Category {
	if entry, exists := m.entries[name]; exists {
		return entry.Category
	}
	return types.DefaultCategory
}

// Cacheable reports whether results for name may be stored and served from
// the result cache. Unknown names are never cacheable.
func (m *Manifest) Cacheable(name string) bool {
	entry, exists := m.entries[name]
	return exists && entry.Cacheable
}

// Operations lists the registered names in stable order, for diagnostics.
func (m *Manifest) Operations() []string {
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type declaration struct {
	name      string
	category  types.Category
	cacheable bool
}

var defaultDeclarations = []declaration{
	{"list_tables", types.CategoryMetadata, true},
	{"list_columns", types.CategoryMetadata, true},
	{"list_measures", types.CategoryMetadata, true},
	{"list_relationships", types.CategoryMetadata, true},
	{"describe_table", types.CategoryMetadata, true},
	{"describe_measure", types.CategoryMetadata, true},
	{"get_model_info", types.CategoryMetadata, true},
	{"connection_status", types.CategoryMetadata, false},
	{"cache_stats", types.CategoryMetadata, false},
	{"flush_cache", types.CategoryMetadata, false},

	{"execute_query", types.CategoryAnalysis, true},
	{"evaluate_measure", types.CategoryAnalysis, true},
	{"preview_table", types.CategoryAnalysis, true},
	{"aggregate_column", types.CategoryAnalysis, true},

	{"analyze_query_performance", types.CategoryPerformance, false},
	{"get_engine_metrics", types.CategoryPerformance, false},
	{"trace_query", types.CategoryPerformance, false},
}

// DefaultManifest builds the manifest for the gateway's stock operation set.
func DefaultManifest() (*Manifest, error) {
	manifest := NewManifest()
	for _, decl := range defaultDeclarations {
		if err := manifest.Register(decl.name, decl.category, decl.cacheable); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}
