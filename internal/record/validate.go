// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package record

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata and is safe for concurrent use.
var validate = validator.New()

// Rules maps field names to go-playground/validator tag expressions,
// e.g. {"code": "required,alphanum", "name": "required,max=255"}.
// Adapters declare their field rules once and apply them per record.
type Rules map[string]any

// ValidateRules checks a record against a rule set. The first failing
// field is reported as a *ValidationError so engines can record it as
// row data.
func ValidateRules(rec Record, rules Rules) error {
	results := validate.ValidateMap(rec, rules)
	for field, err := range results {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return &ValidationError{
				Field: field,
				Msg:   fmt.Sprintf("failed %q constraint", verrs[0].Tag()),
			}
		}
		return &ValidationError{Field: field, Msg: "invalid value"}
	}
	return nil
}

// RequireString returns the named field as a non-empty string, or a
// *ValidationError. Convenience for adapters with a handful of required
// fields.
func RequireString(rec Record, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", &ValidationError{Field: field, Msg: "missing required field"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: field, Msg: fmt.Sprintf("expected string, got %T", v)}
	}
	if s == "" {
		return "", &ValidationError{Field: field, Msg: "must not be empty"}
	}
	return s, nil
}

// OptionalString returns the named field as a string if present,
// tolerating absent or nil values.
func OptionalString(rec Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
