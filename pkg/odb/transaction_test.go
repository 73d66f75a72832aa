package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	store := substrate.NewMemory()
	t.Cleanup(func() { store.Close() })
	db, err := Setup(store, "testdb")
	require.NoError(t, err)
	return db
}

// definePerson commits a Person class: an immutable name and a friends
// list ordered by name, duplicates allowed.
func definePerson(t *testing.T, db *Database) {
	t.Helper()
	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	creator := tx.Classes()
	creator.Class("Person").
		String("name", false).
		KeyedList("friends", "Person", true, "name", "lexi")
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestCreateReadCycle(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	// Build the graph: Alice with friends Bob and Carol, rooted at "root".
	tx, err := db.Transaction()
	require.NoError(t, err)
	person, err := tx.FindClass("Person")
	require.NoError(t, err)

	alice, err := tx.ConstructObject(person, "Alice", nil)
	require.NoError(t, err)
	bob, err := tx.ConstructObject(person, "Bob", nil)
	require.NoError(t, err)
	carol, err := tx.ConstructObject(person, "Carol", nil)
	require.NoError(t, err)

	friends, err := alice.List("friends")
	require.NoError(t, err)
	require.NoError(t, friends.Add(carol))
	require.NoError(t, friends.Add(bob))
	require.NoError(t, tx.AddNamedItem("root", alice))
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	// A fresh transaction walks the graph from the root.
	tx2, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx2.Close()
	root, err := tx2.NamedItem("root")
	require.NoError(t, err)
	name, err := root.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	friends2, err := root.List("friends")
	require.NoError(t, err)
	refs, err := friends2.Refs()
	require.NoError(t, err)
	// Lexicographic by name: Bob before Carol, regardless of add order.
	require.Equal(t, []ref.Ref{bob.Ref(), carol.Ref()}, refs)
}

func TestFindClassUnknown(t *testing.T) {
	db := testDB(t)
	tx, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx.Close()
	_, err = tx.FindClass("Ghost")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestClassValidationFailsBatch(t *testing.T) {
	db := testDB(t)
	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()

	creator := tx.Classes()
	creator.Class("Book").ObjectRef("author", "Author", true)
	_, err = creator.ValidateAndComplete()
	assert.True(t, IsClassValidation(err), "unresolved Author should fail validation, got %v", err)

	// The failed batch left nothing behind.
	_, err = tx.FindClass("Book")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestClassBatchMutualReference(t *testing.T) {
	db := testDB(t)
	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Author").String("name", false).KeyedList("books", "Book", false, "title", "lexi")
	creator.Class("Book").String("title", false).ObjectRef("author", "Author", true)
	classes, err := creator.ValidateAndComplete()
	require.NoError(t, err)
	require.Len(t, classes, 2)
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	tx2, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx2.Close()
	book, err := tx2.FindClass("Book")
	require.NoError(t, err)
	author, err := tx2.FindClass("Author")
	require.NoError(t, err)
	// The Book.author field resolved to Author's reference.
	target, ok := refTypeTarget(book.Field(book.FieldIndex("author")).Type)
	require.True(t, ok)
	assert.Equal(t, author.Ref(), target)
}

func TestImmutableFieldRejected(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	person, err := tx.FindClass("Person")
	require.NoError(t, err)
	alice, err := tx.ConstructObject(person, "Alice", nil)
	require.NoError(t, err)

	err = alice.SetString("name", "Alicia")
	assert.ErrorIs(t, err, ErrFieldImmutable)
	// The transaction survives the rejection.
	name, err := alice.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestMutableFieldReplaced(t *testing.T) {
	db := testDB(t)
	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Note").String("text", true)
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	note, err := tx.FindClass("Note")
	require.NoError(t, err)
	n, err := tx.ConstructObject(note, "draft")
	require.NoError(t, err)
	require.NoError(t, n.SetString("text", "final"))
	require.NoError(t, tx.AddNamedItem("note", n))
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	tx2, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx2.Close()
	got, err := tx2.NamedItem("note")
	require.NoError(t, err)
	text, err := got.GetString("text")
	require.NoError(t, err)
	assert.Equal(t, "final", text)
}

func TestTypeMismatchSurfaces(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)
	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	person, err := tx.FindClass("Person")
	require.NoError(t, err)

	_, err = tx.ConstructObject(person, 42, nil)
	assert.True(t, IsTypeMismatch(err), "want type mismatch, got %v", err)
	_, err = tx.ConstructObject(person, "Zed")
	assert.True(t, IsTypeMismatch(err), "want arity mismatch, got %v", err)

	// The transaction is still valid after a type mismatch.
	_, err = tx.ConstructObject(person, "Zed", nil)
	assert.NoError(t, err)
}

func TestReadOnlyViolationIsFatal(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	tx, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx.Close()
	person, err := tx.FindClass("Person")
	require.NoError(t, err)

	_, err = tx.ConstructObject(person, "Eve", nil)
	assert.ErrorIs(t, err, ErrReadOnly)

	// The violation invalidates the transaction for reads as well.
	_, err = tx.FindClass("Person")
	assert.ErrorIs(t, err, ErrInvalidated)
}

func TestNamedItemReplaceAndRemove(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	tx, err := db.Transaction()
	require.NoError(t, err)
	person, err := tx.FindClass("Person")
	require.NoError(t, err)
	a, err := tx.ConstructObject(person, "A", nil)
	require.NoError(t, err)
	b, err := tx.ConstructObject(person, "B", nil)
	require.NoError(t, err)

	require.NoError(t, tx.AddNamedItem("head", a))
	require.NoError(t, tx.AddNamedItem("head", b))
	got, err := tx.NamedItem("head")
	require.NoError(t, err)
	assert.Equal(t, b.Ref(), got.Ref())

	removed, err := tx.RemoveNamedItem("head")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = tx.NamedItem("head")
	assert.ErrorIs(t, err, ErrNamedItemNotFound)

	removed, err = tx.RemoveNamedItem("head")
	require.NoError(t, err)
	assert.False(t, removed)
	tx.Close()
}

func TestUniqueListViolation(t *testing.T) {
	db := testDB(t)

	// A Tag class and a container holding a unique list of tags by name.
	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Tag").String("name", false)
	creator.Class("TagSet").KeyedList("tags", "Tag", false, "name", "lexi")
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)

	tag, err := tx.FindClass("Tag")
	require.NoError(t, err)
	tagSet, err := tx.FindClass("TagSet")
	require.NoError(t, err)
	set, err := tx.ConstructObject(tagSet, nil)
	require.NoError(t, err)
	tags, err := set.List("tags")
	require.NoError(t, err)

	x, err := tx.ConstructObject(tag, "x")
	require.NoError(t, err)
	y, err := tx.ConstructObject(tag, "y")
	require.NoError(t, err)
	require.NoError(t, tags.Add(x))
	require.NoError(t, tags.Add(y))

	x2, err := tx.ConstructObject(tag, "x")
	require.NoError(t, err)
	err = tags.Add(x2)
	assert.True(t, IsConstraintViolation(err), "want constraint violation, got %v", err)

	// The commit still succeeds with the two accepted tags.
	require.NoError(t, tx.AddNamedItem("tags", set))
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	tx2, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx2.Close()
	setObj, err := tx2.NamedItem("tags")
	require.NoError(t, err)
	tags2, err := setObj.List("tags")
	require.NoError(t, err)
	n, err := tags2.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDataBlobRoundTrip(t *testing.T) {
	db := testDB(t)
	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Doc").String("title", false).Data("body")
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	doc, err := tx.FindClass("Doc")
	require.NoError(t, err)
	d, err := tx.ConstructObject(doc, "readme", nil)
	require.NoError(t, err)
	body, err := d.Data("body")
	require.NoError(t, err)
	require.NoError(t, body.WriteAt([]byte("contents of the readme"), 0))
	require.NoError(t, tx.AddNamedItem("readme", d))
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	tx2, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx2.Close()
	got, err := tx2.NamedItem("readme")
	require.NoError(t, err)
	body2, err := got.Data("body")
	require.NoError(t, err)
	buf := make([]byte, body2.Size())
	body2.ReadAt(buf, 0)
	assert.Equal(t, "contents of the readme", string(buf))
}

func TestDictionaryRoundTrip(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	tx, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx.Close()
	person, err := tx.FindClass("Person")
	require.NoError(t, err)
	listType := person.Field(person.FieldIndex("friends")).Type

	d, err := tx.dict()
	require.NoError(t, err)
	r, ok := d.refForType(listType)
	require.True(t, ok, "list type %q has no dictionary binding", listType)
	back, ok := d.typeForRef(r)
	require.True(t, ok)
	assert.Equal(t, listType, back)
}

func TestObjectReferenceFields(t *testing.T) {
	db := testDB(t)
	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	creator := tx.Classes()
	creator.Class("Node").String("label", false).ObjectRef("next", "Node", true)
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	node, err := tx.FindClass("Node")
	require.NoError(t, err)

	tail, err := tx.ConstructObject(node, "tail", nil)
	require.NoError(t, err)
	head, err := tx.ConstructObject(node, "head", tail)
	require.NoError(t, err)

	next, err := head.GetObject("next")
	require.NoError(t, err)
	assert.Equal(t, tail.Ref(), next.Ref())

	// A null reference field reads as nil and refuses resolution.
	isNull, err := tail.IsNull("next")
	require.NoError(t, err)
	assert.True(t, isNull)
	_, err = tail.GetObject("next")
	assert.ErrorIs(t, err, ErrNoSuchReference)
}

func TestCommitTwiceRejected(t *testing.T) {
	db := testDB(t)
	definePerson(t, db)

	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	person, err := tx.FindClass("Person")
	require.NoError(t, err)
	_, err = tx.ConstructObject(person, "Solo", nil)
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	// A committed transaction refuses a second commit.
	_, err = tx.Commit()
	assert.Error(t, err)
}
