package entity

import "fmt"

// Patch is a shallow set of JSON field names to new values, applied by
// Repository.Update. Reserved fields are ignored when present; keys that are
// not fields of the entity type fail the update.
type Patch map[string]any

var reservedFields = map[string]bool{
	FieldID:        true,
	FieldCreatedAt: true,
	FieldUpdatedAt: true,
}

// validate rejects patch keys outside the known field set. Reserved fields
// pass validation and are skipped during merge.
func (p Patch) validate(fields map[string][]int) error {
	for key := range p {
		if reservedFields[key] {
			continue
		}
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
	}
	return nil
}
