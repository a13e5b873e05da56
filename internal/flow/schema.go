package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #region schema-types
// Schema maps the columns of a cleaned CSV export onto a Block.
type Schema struct {
	Timestamp TimestampSpec `yaml:"timestamp"`
	Features  []FeatureSpec `yaml:"features"`
	Label     string        `yaml:"label,omitempty"`
	Filter    string        `yaml:"filter,omitempty"`
	Delimiter string        `yaml:"delimiter,omitempty"`
}

// TimestampSpec describes the timestamp column. Layout takes precedence
// over Unit; Unit is one of s, ms, us, ns for numeric epoch values.
type TimestampSpec struct {
	Column string `yaml:"column"`
	Layout string `yaml:"layout,omitempty"`
	Unit   string `yaml:"unit,omitempty"`
}

// FeatureKind is numeric or categorical.
type FeatureKind string

const (
	KindNumeric     FeatureKind = "numeric"
	KindCategorical FeatureKind = "categorical"
)

// FeatureSpec binds one feature name to a CSV column.
type FeatureSpec struct {
	Name   string      `yaml:"name"`
	Column string      `yaml:"column,omitempty"`
	Kind   FeatureKind `yaml:"kind,omitempty"`
}

// #endregion schema-types

// #region schema-loader

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema decodes and validates a YAML schema document.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.normalize(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// FeatureNames returns the feature names in schema order.
func (s Schema) FeatureNames() []string {
	out := make([]string, len(s.Features))
	for i, f := range s.Features {
		out[i] = f.Name
	}
	return out
}

func (s *Schema) normalize() error {
	if s.Timestamp.Column == "" {
		return fmt.Errorf("%w: timestamp column is required", ErrSchema)
	}
	switch s.Timestamp.Unit {
	case "":
		s.Timestamp.Unit = "s"
	case "s", "ms", "us", "ns":
	default:
		return fmt.Errorf("%w: unknown timestamp unit %q", ErrSchema, s.Timestamp.Unit)
	}
	if len(s.Features) == 0 {
		return fmt.Errorf("%w: at least one feature is required", ErrSchema)
	}
	seen := make(map[string]bool, len(s.Features))
	for i := range s.Features {
		f := &s.Features[i]
		if f.Name == "" {
			return fmt.Errorf("%w: feature %d has no name", ErrSchema, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate feature %q", ErrSchema, f.Name)
		}
		seen[f.Name] = true
		if f.Column == "" {
			f.Column = f.Name
		}
		switch f.Kind {
		case "":
			f.Kind = KindNumeric
		case KindNumeric, KindCategorical:
		default:
			return fmt.Errorf("%w: feature %q has unknown kind %q", ErrSchema, f.Name, f.Kind)
		}
	}
	if s.Delimiter == "" {
		s.Delimiter = ","
	}
	return nil
}

// #endregion schema-loader
