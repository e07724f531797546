package entity

import "time"

// Reserved document fields managed by the repository. They are set on create
// and update and never writable through a Patch.
const (
	FieldID        = "id"
	FieldCreatedAt = "_created_at"
	FieldUpdatedAt = "_updated_at"
)

// Meta carries the reserved fields of a stored record. Entity structs embed
// it by value; the pointer-receiver accessor promotes to the entity's pointer
// type, which is what Repository works with.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"_created_at"`
	UpdatedAt time.Time `json:"_updated_at"`
}

func (m *Meta) DocumentMeta() *Meta { return m }

// Record is implemented by any pointer to a struct embedding Meta.
type Record interface {
	DocumentMeta() *Meta
}
