package query

import (
	"fmt"
	"strings"
)

// CAMLBuilder builds the body of a CAML <Where> element.
type CAMLBuilder struct {
	query string
	err   error
}

// NewCAMLBuilder returns an empty builder.
func NewCAMLBuilder() *CAMLBuilder {
	return &CAMLBuilder{}
}

// WithQuery joins a raw CAML fragment.
func (b *CAMLBuilder) WithQuery(fragment string, join Join) *CAMLBuilder {
	b.join(fragment, join)
	return b
}

// WithFieldQuery joins a structured field comparison.
func (b *CAMLBuilder) WithFieldQuery(f Field, join Join) *CAMLBuilder {
	if b.err != nil {
		return b
	}
	fragment, err := camlField(f)
	if err != nil {
		b.err = err
		return b
	}
	b.join(fragment, join)
	return b
}

// Build returns the fragment or the first error recorded by the chain.
func (b *CAMLBuilder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.query, nil
}

func (b *CAMLBuilder) join(fragment string, join Join) {
	if fragment == "" {
		return
	}
	if b.query == "" {
		b.query = fragment
		return
	}
	if join == "" {
		join = And
	}
	b.query = fmt.Sprintf("<%s>%s%s</%s>", join, b.query, fragment, join)
}

func camlField(f Field) (string, error) {
	f, err := f.normalize()
	if err != nil {
		return "", err
	}
	name := escapeXML(f.Name)

	switch f.Comparer {
	case CurrentUserGroups:
		return fmt.Sprintf(`<Or><Membership Type="CurrentUserGroups"><FieldRef Name="%s"/></Membership>`+
			`<Eq><FieldRef Name="%s"></FieldRef><Value Type="Integer"><UserID/></Value></Eq></Or>`, name, name), nil
	case IDEq:
		return fmt.Sprintf("<Eq><FieldRef Name='%s' LookupId='True' /><Value Type='%s'>%s</Value></Eq>",
			name, f.Type, escapeXML(f.Value)), nil
	case IsNull, IsNotNull:
		return fmt.Sprintf("<%s><FieldRef Name='%s' /></%s>", f.Comparer, name, f.Comparer), nil
	case Eq, Neq, Gt, Lt, Geq, Leq, Contains, BeginsWith:
		return fmt.Sprintf("<%s><FieldRef Name='%s' /><Value Type='%s'>%s</Value></%s>",
			f.Comparer, name, f.Type, escapeXML(f.Value), f.Comparer), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedComparer, f.Comparer)
	}
}

// Where wraps a fragment in a <Where> element. An empty fragment yields "".
func Where(fragment string) string {
	if fragment == "" {
		return ""
	}
	return "<Where>" + fragment + "</Where>"
}

// OrderBy renders a single-field CAML sort clause.
func OrderBy(field string, ascending bool) string {
	return fmt.Sprintf(`<OrderBy><FieldRef Name="%s" Ascending="%s"/></OrderBy>`,
		escapeXML(field), strings.ToUpper(fmt.Sprint(ascending)))
}

// ViewFields renders a <ViewFields> element. No fields yields "".
func ViewFields(fields ...string) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<ViewFields>")
	for _, f := range fields {
		fmt.Fprintf(&b, `<FieldRef Name="%s"/>`, escapeXML(f))
	}
	b.WriteString("</ViewFields>")
	return b.String()
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}
