package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestODataBuilder_FieldQuery(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{name: "text eq", field: Field{Name: "Title", Value: "test", Type: TypeText, Comparer: Eq}, want: "Title eq 'test'"},
		{name: "default comparer", field: Field{Name: "Title", Value: "test", Type: TypeText}, want: "Title eq 'test'"},
		{name: "neq", field: Field{Name: "Status", Value: "Done", Type: TypeChoice, Comparer: Neq}, want: "Status ne 'Done'"},
		{name: "number gt", field: Field{Name: "Size", Value: "10", Type: TypeNumber, Comparer: Gt}, want: "Size gt 10"},
		{name: "counter lt", field: Field{Name: "ID", Value: "5", Type: TypeCounter, Comparer: Lt}, want: "ID lt 5"},
		{name: "integer geq", field: Field{Name: "Priority", Value: "2", Type: TypeInteger, Comparer: Geq}, want: "Priority ge 2"},
		{name: "number leq", field: Field{Name: "Score", Value: "9.5", Type: TypeNumber, Comparer: Leq}, want: "Score le 9.5"},
		{name: "guid", field: Field{Name: "UniqueId", Value: "a-b", Type: TypeGuid}, want: "UniqueId eq guid'a-b'"},
		{name: "date", field: Field{Name: "Created", Value: "2024-01-01T00:00:00Z", Type: TypeDate, Comparer: Geq}, want: "Created ge datetime'2024-01-01T00:00:00Z'"},
		{name: "datetime", field: Field{Name: "Modified", Value: "2024-01-01", Type: TypeDateTime, Comparer: Lt}, want: "Modified lt datetime'2024-01-01'"},
		{name: "boolean", field: Field{Name: "Active", Value: "1", Type: TypeBoolean}, want: "Active eq 1"},
		{name: "contains", field: Field{Name: "Title", Value: "abc", Type: TypeText, Comparer: Contains}, want: "substringof('abc', Title)"},
		{name: "begins with", field: Field{Name: "Title", Value: "ab", Type: TypeText, Comparer: BeginsWith}, want: "startswith(Title, 'ab')"},
		{name: "is null", field: Field{Name: "Owner", Type: TypeUser, Comparer: IsNull}, want: "Owner eq null"},
		{name: "is not null", field: Field{Name: "Owner", Type: TypeUser, Comparer: IsNotNull}, want: "Owner ne null"},
		{name: "id eq", field: Field{Name: "Owner", Value: "12", Type: TypeLookup, Comparer: IDEq}, want: "Owner/Id eq 12"},
		{name: "quote escaping", field: Field{Name: "Title", Value: "O'Brien", Type: TypeText}, want: "Title eq 'O''Brien'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewODataBuilder().WithFieldQuery(tt.field, And).Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestODataBuilder_Joins(t *testing.T) {
	got, err := NewODataBuilder().
		WithFieldQuery(Field{Name: "Title", Value: "a", Type: TypeText}, And).
		WithFieldQuery(Field{Name: "Size", Value: "3", Type: TypeNumber, Comparer: Gt}, And).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "(Title eq 'a') and (Size gt 3)", got)

	got, err = NewODataBuilder().
		WithQuery("x eq 1", Or).
		WithQuery("y eq 2", Or).
		WithQuery("z eq 3", And).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "((x eq 1) or (y eq 2)) and (z eq 3)", got)

	got, err = NewODataBuilder().WithQuery("", And).Build()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestODataBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  error
	}{
		{name: "missing name", field: Field{Value: "x", Type: TypeText}, want: ErrFieldNameRequired},
		{name: "missing type", field: Field{Name: "Title", Value: "x"}, want: ErrFieldTypeRequired},
		{name: "current user groups", field: Field{Name: "Audience", Type: TypeMembership, Comparer: CurrentUserGroups}, want: ErrUnsupportedComparer},
		{name: "unknown comparer", field: Field{Name: "Title", Type: TypeText, Comparer: "Near"}, want: ErrUnsupportedComparer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewODataBuilder().
				WithFieldQuery(tt.field, And).
				WithFieldQuery(Field{Name: "Later", Value: "1", Type: TypeNumber}, And)
			_, err := b.Build()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDataverseBuilder(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{name: "date unquoted", field: Field{Name: "createdon", Value: "2024-01-01", Type: TypeDate, Comparer: Geq}, want: "createdon ge 2024-01-01"},
		{name: "contains", field: Field{Name: "name", Value: "contoso", Type: TypeText, Comparer: Contains}, want: "contains(name, 'contoso')"},
		{name: "begins with", field: Field{Name: "name", Value: "con", Type: TypeText, Comparer: BeginsWith}, want: "startswith(name, 'con')"},
		{name: "guid unquoted", field: Field{Name: "accountid", Value: "0000", Type: TypeGuid}, want: "accountid eq 0000"},
		{name: "text", field: Field{Name: "name", Value: "x", Type: TypeText}, want: "name eq 'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDataverseBuilder().WithFieldQuery(tt.field, And).Build()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	joined, err := NewDataverseBuilder().
		WithFieldQuery(Field{Name: "statecode", Value: "0", Type: TypeInteger}, And).
		WithFieldQuery(Field{Name: "name", Value: "a", Type: TypeText, Comparer: Contains}, Or).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "(statecode eq 0) or (contains(name, 'a'))", joined)
}
