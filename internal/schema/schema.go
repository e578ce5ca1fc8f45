// Package schema defines the canonical field schema for the job-description
// document: the fixed key set, each key's kind, enum value lists, defaults,
// and the alias table that maps source-side field names onto canonical keys.
//
// The extraction backend has changed its field-naming convention more than
// once (snake_case, camelCase, and a couple of legacy extractor names), so
// the alias table is configuration data rather than code: [Load] reads a
// schema from a YAML file, and [Default] provides the compiled-in schema
// matching the current backend. Lookups are convention-insensitive — the
// source name is folded (lowercased, separators stripped) before resolution,
// so "salary_range", "salaryRange", and "SalaryRange" all hit the same key.
package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind classifies a canonical field's value shape.
type Kind string

const (
	// KindScalar is free text stored as a single string. "" means unset.
	KindScalar Kind = "scalar"

	// KindEnum is a scalar restricted to a declared value list.
	KindEnum Kind = "enum"

	// KindList is an ordered list of non-empty strings. An empty list means unset.
	KindList Kind = "list"
)

// IsValid reports whether k is a recognised field kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindScalar, KindEnum, KindList:
		return true
	}
	return false
}

// Field describes one canonical document field.
type Field struct {
	// Key is the canonical field name used internally and by the UI
	// (e.g. "salaryRange").
	Key string `yaml:"key"`

	// Kind selects the value shape: scalar, enum, or list.
	Kind Kind `yaml:"kind"`

	// Values lists the allowed values for enum fields. Incoming values are
	// matched case-insensitively and canonicalised to the spelling given
	// here. Must be empty for non-enum fields.
	Values []string `yaml:"values"`

	// Default is the initial document value for scalar and enum fields.
	// Empty means the field starts unset.
	Default string `yaml:"default"`

	// Aliases lists alternate source-side spellings that resolve to this
	// field (e.g. "salary_range", "salary_expectation").
	Aliases []string `yaml:"aliases"`
}

// FieldUpdate is a raw partial update as received from the extraction
// backend or the UI: source-side field names mapped to values of
// heterogeneous shape (string, []any, []string, or a number). It is
// consumed once by the normalizer and then discarded.
type FieldUpdate map[string]any

// Value is a canonical-typed field value. Exactly one of Text or Items is
// meaningful, depending on the field's [Kind]: Text for scalar and enum
// fields, Items for list fields. List values are never nil once produced
// by the normalizer or stored in a document.
type Value struct {
	Text  string   `json:"text,omitempty"`
	Items []string `json:"items,omitempty"`
}

// ScalarValue returns a Value holding scalar text.
func ScalarValue(text string) Value { return Value{Text: text} }

// ListValue returns a Value holding list items. A nil slice is normalised
// to an empty non-nil slice.
func ListValue(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Items: items}
}

// IsZero reports whether v is the unset value for its kind: empty text and
// no items.
func (v Value) IsZero() bool {
	return v.Text == "" && len(v.Items) == 0
}

// Equal reports whether v and other hold the same value. Lists compare
// element-wise; scalars compare by string equality.
func (v Value) Equal(other Value) bool {
	if v.Text != other.Text {
		return false
	}
	if len(v.Items) != len(other.Items) {
		return false
	}
	for i := range v.Items {
		if v.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.Items == nil {
		return Value{Text: v.Text}
	}
	items := make([]string, len(v.Items))
	copy(items, v.Items)
	return Value{Text: v.Text, Items: items}
}

// Patch is a validated partial update ready to merge: canonical keys mapped
// to canonical-typed values. Every key in a Patch produced by the normalizer
// is a member of the schema's key set.
type Patch map[string]Value

// Schema is the validated canonical field schema. It is read-only after
// construction and therefore safe for concurrent use.
type Schema struct {
	fields map[string]Field  // canonical key → field
	order  []string          // canonical keys in declaration order
	lookup map[string]string // folded source name → canonical key
}

// fileSchema is the YAML document shape accepted by [Load].
type fileSchema struct {
	Fields []Field `yaml:"fields"`
}

// New builds a validated [Schema] from a field list. It returns an error
// when a key or alias is duplicated (after folding), a kind is unknown, an
// enum declares no values, or a default is not a member of an enum's value
// list.
func New(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema: no fields declared")
	}

	s := &Schema{
		fields: make(map[string]Field, len(fields)),
		order:  make([]string, 0, len(fields)),
		lookup: make(map[string]string),
	}

	for i, f := range fields {
		prefix := fmt.Sprintf("schema: fields[%d]", i)
		if f.Key == "" {
			return nil, fmt.Errorf("%s: key is required", prefix)
		}
		if !f.Kind.IsValid() {
			return nil, fmt.Errorf("%s (%q): kind %q is invalid; valid values: scalar, enum, list", prefix, f.Key, f.Kind)
		}
		if f.Kind == KindEnum && len(f.Values) == 0 {
			return nil, fmt.Errorf("%s (%q): enum fields must declare values", prefix, f.Key)
		}
		if f.Kind != KindEnum && len(f.Values) > 0 {
			return nil, fmt.Errorf("%s (%q): values are only allowed on enum fields", prefix, f.Key)
		}
		if f.Kind == KindList && f.Default != "" {
			return nil, fmt.Errorf("%s (%q): list fields cannot declare a default", prefix, f.Key)
		}
		if f.Kind == KindEnum && f.Default != "" && !containsFold(f.Values, f.Default) {
			return nil, fmt.Errorf("%s (%q): default %q is not in the enum value list", prefix, f.Key, f.Default)
		}
		if _, dup := s.fields[f.Key]; dup {
			return nil, fmt.Errorf("%s: key %q is a duplicate", prefix, f.Key)
		}

		s.fields[f.Key] = f
		s.order = append(s.order, f.Key)

		names := append([]string{f.Key}, f.Aliases...)
		for _, name := range names {
			folded := Fold(name)
			if folded == "" {
				return nil, fmt.Errorf("%s (%q): empty alias", prefix, f.Key)
			}
			if prev, dup := s.lookup[folded]; dup && prev != f.Key {
				return nil, fmt.Errorf("%s (%q): alias %q collides with field %q", prefix, f.Key, name, prev)
			}
			s.lookup[folded] = f.Key
		}
	}

	return s, nil
}

// Load reads a YAML schema file from path.
func Load(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("schema: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes a YAML schema from r and validates the result.
// Useful in tests where schemas are constructed from string literals.
func LoadFromReader(r io.Reader) (*Schema, error) {
	var fs fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fs); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	return New(fs.Fields)
}

// Default returns the compiled-in schema matching the current extraction
// backend's field conventions.
func Default() *Schema {
	s, err := New([]Field{
		{Key: "title", Kind: KindScalar, Aliases: []string{"job_title", "position", "role"}},
		{Key: "company", Kind: KindScalar, Aliases: []string{"company_name", "employer"}},
		{Key: "description", Kind: KindScalar, Aliases: []string{"job_description", "summary"}},
		{Key: "requirements", Kind: KindList, Aliases: []string{"skills", "qualifications", "must_haves"}},
		{Key: "benefits", Kind: KindList, Aliases: []string{"perks", "compensation_benefits"}},
		{Key: "location", Kind: KindScalar, Aliases: []string{"job_location", "city"}},
		{Key: "salaryRange", Kind: KindScalar, Aliases: []string{"salary", "salary_range", "salary_expectation"}},
		{
			Key:     "employmentType",
			Kind:    KindEnum,
			Values:  []string{"Full-time", "Part-time", "Contract", "Internship", "Temporary"},
			Default: "Full-time",
			// The backend has emitted all three of these names for the
			// same concept across versions.
			Aliases: []string{"employment_type", "work_arrangement", "work_preference"},
		},
	})
	if err != nil {
		panic("schema: invalid default schema: " + err.Error())
	}
	return s
}

// Resolve maps a source-side field name to its canonical field. The name is
// folded before lookup, so any of the backend's naming conventions match.
func (s *Schema) Resolve(name string) (Field, bool) {
	key, ok := s.lookup[Fold(name)]
	if !ok {
		return Field{}, false
	}
	return s.fields[key], true
}

// Field returns the declaration for a canonical key.
func (s *Schema) Field(key string) (Field, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Keys returns the canonical keys in declaration order. The returned slice
// is a copy.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Len returns the number of canonical fields.
func (s *Schema) Len() int { return len(s.order) }

// EnumValue canonicalises raw against f's value list, matching
// case-insensitively. It returns the declared spelling and true on a match.
func (f Field) EnumValue(raw string) (string, bool) {
	for _, v := range f.Values {
		if strings.EqualFold(v, strings.TrimSpace(raw)) {
			return v, true
		}
	}
	return "", false
}

// Fold normalises a field name for convention-insensitive lookup:
// lowercased with "_", "-", and spaces removed.
func Fold(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// containsFold reports whether list contains s under case-insensitive compare.
func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
