package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/pkg/ref"
)

func TestClassSerializationRoundTrip(t *testing.T) {
	c := &Class{
		name: "Person",
		fields: []Field{
			{Name: "name", Type: TypeString},
			{Name: "bio", Type: TypeString, Mutable: true},
			{Name: "photo", Type: TypeData},
			{Name: "friend", Type: "Person#0000000000000000000000000000000a", Mutable: true},
		},
		ref: ref.Ref{Low: 10},
	}
	fields, err := parseClassFields(c.Serialization())
	require.NoError(t, err)
	assert.Equal(t, c.fields, fields)
}

func TestParseListType(t *testing.T) {
	elem := ref.Ref{High: 1, Low: 2}
	tests := []struct {
		name string
		in   string
		want listSpec
	}{
		{
			name: "unique by reference",
			in:   "[L<Tag>(unique)",
			want: listSpec{ElementName: "Tag"},
		},
		{
			name: "duplicates with key",
			in:   "[L<Person#" + elem.String() + ">(duplicates,name,lexi)",
			want: listSpec{ElementName: "Person", ElementRef: elem, AllowDups: true,
				KeyField: "name", Collator: "lexi"},
		},
		{
			name: "descending",
			in:   "[L<Event#" + elem.String() + ">(unique,stamp,-lexi)",
			want: listSpec{ElementName: "Event", ElementRef: elem,
				KeyField: "stamp", Collator: "lexi", Descending: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseListType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			// The rendered form parses back to the same spec.
			again, err := parseListType(got.typeString())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestParseListTypeRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"[S",
		"[L<Tag>",
		"[L<Tag>(sometimes)",
		"[L<Tag>(unique,name)",
	} {
		if _, err := parseListType(in); err == nil {
			t.Errorf("parseListType(%q) succeeded, want error", in)
		}
	}
}

func TestSystemClassShapes(t *testing.T) {
	classes := systemClasses()

	class := classes[ClassClassRef]
	require.NotNil(t, class)
	assert.Equal(t, "$Class", class.Name())
	assert.Equal(t, SystemClass, class.Source())
	assert.Equal(t, 0, class.FieldIndex("name"))
	assert.Equal(t, 1, class.FieldIndex("serialization"))

	namer := classes[NamerClassRef]
	require.NotNil(t, namer)
	assert.Equal(t, "$Namer", namer.Name())
	assert.Equal(t, 3, namer.FieldCount())
	for i := 0; i < namer.FieldCount(); i++ {
		assert.Equal(t, TypeString, namer.Field(i).Type)
	}
}

func TestObjectRecordRoundTrip(t *testing.T) {
	r := ref.Ref{High: 3, Low: 9}
	values := []fieldValue{
		stringValue("hello"),
		nullValue(),
		refValue(ref.Ref{High: 8, Low: 1}),
		stringValue(""),
	}
	gotRef, gotValues, err := decodeObject(encodeObject(r, values))
	require.NoError(t, err)
	assert.Equal(t, r, gotRef)
	assert.Equal(t, values, gotValues)
}

func TestDecodeObjectRejectsTruncated(t *testing.T) {
	r := ref.Ref{Low: 1}
	rec := encodeObject(r, []fieldValue{stringValue("abc")})
	for _, n := range []int{8, len(rec) - 1} {
		if _, _, err := decodeObject(rec[:n]); err == nil {
			t.Errorf("decodeObject of %d bytes succeeded, want error", n)
		}
	}
}
