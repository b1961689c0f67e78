package query

import (
	"fmt"
	"strings"
)

type dialect int

const (
	dialectSharePoint dialect = iota
	dialectDataverse
)

// ODataBuilder builds $filter expressions. The zero value is not usable;
// construct with NewODataBuilder or NewDataverseBuilder.
type ODataBuilder struct {
	dialect dialect
	query   string
	err     error
}

// NewODataBuilder returns a builder for the SharePoint/Graph OData dialect.
func NewODataBuilder() *ODataBuilder {
	return &ODataBuilder{dialect: dialectSharePoint}
}

// NewDataverseBuilder returns a builder for the Dataverse Web API dialect:
// dates and guids are unquoted and Contains uses contains().
func NewDataverseBuilder() *ODataBuilder {
	return &ODataBuilder{dialect: dialectDataverse}
}

// WithQuery joins a raw filter expression.
func (b *ODataBuilder) WithQuery(expr string, join Join) *ODataBuilder {
	b.join(expr, join)
	return b
}

// WithFieldQuery joins a structured field comparison.
func (b *ODataBuilder) WithFieldQuery(f Field, join Join) *ODataBuilder {
	if b.err != nil {
		return b
	}
	expr, err := b.fieldExpr(f)
	if err != nil {
		b.err = err
		return b
	}
	b.join(expr, join)
	return b
}

// Build returns the filter or the first error recorded by the chain.
func (b *ODataBuilder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.query, nil
}

func (b *ODataBuilder) join(expr string, join Join) {
	if expr == "" {
		return
	}
	if b.query == "" {
		b.query = expr
		return
	}
	if join == "" {
		join = And
	}
	b.query = fmt.Sprintf("(%s) %s (%s)", b.query, strings.ToLower(string(join)), expr)
}

func (b *ODataBuilder) fieldExpr(f Field) (string, error) {
	f, err := f.normalize()
	if err != nil {
		return "", err
	}

	switch f.Comparer {
	case IsNull:
		return f.Name + " eq null", nil
	case IsNotNull:
		return f.Name + " ne null", nil
	case IDEq:
		return fmt.Sprintf("%s/Id eq %s", f.Name, f.Value), nil
	case Contains:
		if b.dialect == dialectDataverse {
			return fmt.Sprintf("contains(%s, %s)", f.Name, quote(f.Value)), nil
		}
		return fmt.Sprintf("substringof(%s, %s)", quote(f.Value), f.Name), nil
	case BeginsWith:
		return fmt.Sprintf("startswith(%s, %s)", f.Name, quote(f.Value)), nil
	case Eq, Neq, Gt, Lt, Geq, Leq:
		return fmt.Sprintf("%s %s %s", f.Name, operator(f.Comparer), b.literal(f)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedComparer, f.Comparer)
	}
}

func (b *ODataBuilder) literal(f Field) string {
	switch {
	case f.Type.numeric() || f.Type == TypeBoolean:
		return f.Value
	case f.Type == TypeGuid:
		if b.dialect == dialectDataverse {
			return f.Value
		}
		return "guid'" + f.Value + "'"
	case f.Type.temporal():
		if b.dialect == dialectDataverse {
			return f.Value
		}
		return "datetime'" + f.Value + "'"
	default:
		return quote(f.Value)
	}
}

func operator(c Comparer) string {
	switch c {
	case Geq:
		return "ge"
	case Leq:
		return "le"
	default:
		return strings.ToLower(string(c))
	}
}

// quote renders an OData string literal, doubling embedded quotes.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
