package config

import "fmt"

// ResourceConfig declares one exposed entity: its table, column allow-list,
// route parameters and joinable relations.
type ResourceConfig struct {
	Name    string `mapstructure:"name"`
	Schema  string `mapstructure:"schema"`
	Table   string `mapstructure:"table"`
	// Allow restricts exposed columns; empty means every introspected column.
	Allow []string `mapstructure:"allow"`
	// Exclude removes columns from the exposed set.
	Exclude []string `mapstructure:"exclude"`
	// Persist columns are always selected and merged into write payloads.
	Persist []string `mapstructure:"persist"`
	// Filter pins a server-declared base condition onto every request.
	Filter []FilterConfig `mapstructure:"filter"`
	// Params maps route parameter names onto entity fields.
	Params map[string]ParamConfig `mapstructure:"params"`
	// Relations is the join allow-list.
	Relations []RelationConfig `mapstructure:"relations"`

	// Per-route overrides of the process-wide query defaults. Nil means
	// inherit.
	MaxLimit            *int  `mapstructure:"max_limit"`
	AlwaysPaginate      *bool `mapstructure:"always_paginate"`
	SoftDelete          *bool `mapstructure:"soft_delete"`
	AllowParamsOverride *bool `mapstructure:"allow_params_override"`
	ReturnShallow       *bool `mapstructure:"return_shallow"`
}

// FilterConfig declares one base-condition triple.
type FilterConfig struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    any    `mapstructure:"value"`
}

// ParamConfig declares a typed route parameter.
type ParamConfig struct {
	Field    string `mapstructure:"field"`
	Type     string `mapstructure:"type"` // string, number, uuid
	Disabled bool   `mapstructure:"disabled"`
	Primary  bool   `mapstructure:"primary"`
}

// RelationConfig declares one allow-listed relation.
type RelationConfig struct {
	// Name is the path clients use in join and dotted field references.
	Name   string `mapstructure:"name"`
	Schema string `mapstructure:"schema"`
	Table  string `mapstructure:"table"`
	// LocalKey is the column on the base table, ForeignKey the column on the
	// joined table.
	LocalKey   string `mapstructure:"local_key"`
	ForeignKey string `mapstructure:"foreign_key"`
	// Required relations join with INNER instead of LEFT.
	Required bool     `mapstructure:"required"`
	Allow    []string `mapstructure:"allow"`
}

// Validate validates the resource declaration.
func (rc *ResourceConfig) Validate() error {
	if rc.Name == "" {
		return fmt.Errorf("resource name is required")
	}
	if rc.Table == "" {
		return fmt.Errorf("resource %q: table is required", rc.Name)
	}
	if rc.Schema == "" {
		rc.Schema = "public"
	}
	for _, f := range rc.Filter {
		if f.Field == "" || f.Operator == "" {
			return fmt.Errorf("resource %q: filter entries need field and operator", rc.Name)
		}
	}
	for name, p := range rc.Params {
		switch p.Type {
		case "", "string", "number", "uuid":
		default:
			return fmt.Errorf("resource %q: param %q has unknown type %q", rc.Name, name, p.Type)
		}
	}
	seen := make(map[string]bool, len(rc.Relations))
	for _, rel := range rc.Relations {
		if rel.Name == "" || rel.Table == "" {
			return fmt.Errorf("resource %q: relation name and table are required", rc.Name)
		}
		if rel.LocalKey == "" || rel.ForeignKey == "" {
			return fmt.Errorf("resource %q: relation %q needs local_key and foreign_key", rc.Name, rel.Name)
		}
		if seen[rel.Name] {
			return fmt.Errorf("resource %q: duplicate relation %q", rc.Name, rel.Name)
		}
		seen[rel.Name] = true
	}
	return nil
}
