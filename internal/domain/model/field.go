// Package model contains domain models passed between layers.
package model

// FieldType names one independently sensed field of the table state.
type FieldType string

// Field types produced by the sensing layer.
const (
	FieldCard   FieldType = "card"
	FieldPot    FieldType = "pot"
	FieldPlayer FieldType = "player"
	FieldButton FieldType = "button"
	FieldAction FieldType = "action"
	FieldBoard  FieldType = "board"
)

// FieldTypes lists every known field type in a stable order.
func FieldTypes() []FieldType {
	return []FieldType{FieldCard, FieldPot, FieldPlayer, FieldButton, FieldAction, FieldBoard}
}

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldCard, FieldPot, FieldPlayer, FieldButton, FieldAction, FieldBoard:
		return true
	}
	return false
}

func (t FieldType) String() string { return string(t) }
