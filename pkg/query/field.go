// Package query builds OData filter expressions and CAML where-clauses from
// structured field comparisons.
//
// Builders are fluent and pure. Validation errors are kept on the builder
// and reported by Build, so a chain never reaches the network with a
// malformed query:
//
//	filter, err := query.NewODataBuilder().
//		WithFieldQuery(query.Field{Name: "Title", Value: "test", Type: query.TypeText}, query.And).
//		WithFieldQuery(query.Field{Name: "Priority", Value: "2", Type: query.TypeNumber, Comparer: query.Geq}, query.And).
//		Build()
//	// (Title eq 'test') and (Priority ge 2)
package query

import (
	"errors"
	"fmt"
)

var (
	ErrFieldNameRequired   = errors.New("field name is required")
	ErrFieldTypeRequired   = errors.New("field type is required")
	ErrUnsupportedComparer = errors.New("unsupported comparer")
)

// Comparer is a field comparison operator.
type Comparer string

const (
	Eq                Comparer = "Eq"
	Neq               Comparer = "Neq"
	Gt                Comparer = "Gt"
	Lt                Comparer = "Lt"
	Geq               Comparer = "Geq"
	Leq               Comparer = "Leq"
	Contains          Comparer = "Contains"
	BeginsWith        Comparer = "BeginsWith"
	IsNull            Comparer = "IsNull"
	IsNotNull         Comparer = "IsNotNull"
	IDEq              Comparer = "IDEq"
	CurrentUserGroups Comparer = "CurrentUserGroups"
)

// FieldType is the column type that drives literal formatting.
type FieldType string

const (
	TypeText       FieldType = "Text"
	TypeNote       FieldType = "Note"
	TypeNumber     FieldType = "Number"
	TypeCounter    FieldType = "Counter"
	TypeInteger    FieldType = "Integer"
	TypeBoolean    FieldType = "Boolean"
	TypeGuid       FieldType = "Guid"
	TypeDate       FieldType = "Date"
	TypeDateTime   FieldType = "DateTime"
	TypeLookup     FieldType = "Lookup"
	TypeUser       FieldType = "User"
	TypeChoice     FieldType = "Choice"
	TypeMembership FieldType = "Membership"
)

func (t FieldType) numeric() bool {
	return t == TypeNumber || t == TypeCounter || t == TypeInteger
}

func (t FieldType) temporal() bool {
	return t == TypeDate || t == TypeDateTime
}

// Join combines two clauses.
type Join string

const (
	And Join = "And"
	Or  Join = "Or"
)

// Field describes one comparison. An empty Comparer means Eq.
type Field struct {
	Name     string
	Value    string
	Type     FieldType
	Comparer Comparer
}

// normalize validates f and fills the default comparer.
func (f Field) normalize() (Field, error) {
	if f.Name == "" {
		return f, ErrFieldNameRequired
	}
	if f.Type == "" {
		return f, fmt.Errorf("%w (field %s)", ErrFieldTypeRequired, f.Name)
	}
	if f.Comparer == "" {
		f.Comparer = Eq
	}
	return f, nil
}
