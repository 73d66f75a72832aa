package odb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumdb/stratum/pkg/events"
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// defineTagWithSet commits Tag plus a TagSet container rooted at "set",
// with a unique tags list ordered by name.
func defineTagWithSet(t *testing.T, db *Database) {
	t.Helper()
	tx, err := db.Transaction()
	require.NoError(t, err)
	defer tx.Close()
	creator := tx.Classes()
	creator.Class("Tag").String("name", false)
	creator.Class("TagSet").KeyedList("tags", "Tag", false, "name", "lexi")
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	tagSet, err := tx.FindClass("TagSet")
	require.NoError(t, err)
	set, err := tx.ConstructObject(tagSet, nil)
	require.NoError(t, err)
	require.NoError(t, tx.AddNamedItem("set", set))
	_, err = tx.Commit()
	require.NoError(t, err)
}

func tagsList(t *testing.T, tx *Transaction) *List {
	t.Helper()
	set, err := tx.NamedItem("set")
	require.NoError(t, err)
	list, err := set.List("tags")
	require.NoError(t, err)
	return list
}

func addTag(t *testing.T, tx *Transaction, name string) *Object {
	t.Helper()
	tag, err := tx.FindClass("Tag")
	require.NoError(t, err)
	obj, err := tx.ConstructObject(tag, name)
	require.NoError(t, err)
	require.NoError(t, tagsList(t, tx).Add(obj))
	return obj
}

func tagNames(t *testing.T, tx *Transaction) []string {
	t.Helper()
	tag, err := tx.FindClass("Tag")
	require.NoError(t, err)
	var out []string
	require.NoError(t, tagsList(t, tx).Each(func(r ref.Ref) error {
		obj, err := tx.GetObject(tag, r)
		if err != nil {
			return err
		}
		name, err := obj.GetString("name")
		if err != nil {
			return err
		}
		out = append(out, name)
		return nil
	}))
	return out
}

// Two transactions add different keys to the same list; the later commit
// replays its add on top of the earlier one.
func TestConcurrentListAddsMerge(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	addTag(t, t1, "a")
	addTag(t, t2, "b")

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	require.NoError(t, err, "merge of independent adds should succeed")
	t2.Close()

	t3, err := db.ReadTransaction()
	require.NoError(t, err)
	defer t3.Close()
	assert.Equal(t, []string{"a", "b"}, tagNames(t, t3))
}

// Two transactions add the same key to a unique list; the merge faults.
func TestConcurrentDuplicateAddFaults(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	addTag(t, t1, "same")
	addTag(t, t2, "same")

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	assert.True(t, IsCommitFault(err), "want commit fault, got %v", err)
	t2.Close()
}

// Two transactions modify the same object; the later commit faults.
func TestConcurrentObjectMutationFaults(t *testing.T) {
	db := testDB(t)

	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Note").String("text", true)
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	note, err := tx.FindClass("Note")
	require.NoError(t, err)
	n, err := tx.ConstructObject(note, "v0")
	require.NoError(t, err)
	require.NoError(t, tx.AddNamedItem("note", n))
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	n1, err := t1.NamedItem("note")
	require.NoError(t, err)
	require.NoError(t, n1.SetString("text", "from t1"))
	n2, err := t2.NamedItem("note")
	require.NoError(t, err)
	require.NoError(t, n2.SetString("text", "from t2"))

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	require.True(t, IsCommitFault(err), "want commit fault, got %v", err)
	assert.ErrorContains(t, err, "concurrently modified")
	t2.Close()

	// The faulted value never landed.
	t3, err := db.ReadTransaction()
	require.NoError(t, err)
	defer t3.Close()
	got, err := t3.NamedItem("note")
	require.NoError(t, err)
	text, err := got.GetString("text")
	require.NoError(t, err)
	assert.Equal(t, "from t1", text)
}

// Two transactions remove the same list entry; the later commit faults.
func TestConcurrentRemoveFaults(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	setup, err := db.Transaction()
	require.NoError(t, err)
	obj := addTag(t, setup, "victim")
	victim := obj.Ref()
	_, err = setup.Commit()
	require.NoError(t, err)
	setup.Close()

	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	removed, err := tagsList(t, t1).Remove(victim)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = tagsList(t, t2).Remove(victim)
	require.NoError(t, err)
	require.True(t, removed)

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	require.True(t, IsCommitFault(err), "want commit fault, got %v", err)
	assert.ErrorContains(t, err, "Duplicate remove")
	t2.Close()
}

// Two transactions allocate the same storage key for different resources;
// the merge rehomes the later one and both stay retrievable.
func TestKeyClashRemap(t *testing.T) {
	db := testDB(t)

	tx, err := db.Transaction()
	require.NoError(t, err)
	creator := tx.Classes()
	creator.Class("Doc").String("title", false).Data("body")
	_, err = creator.ValidateAndComplete()
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)
	tx.Close()

	// Both transactions start from the same base, so their key counters
	// agree and the first allocation of each lands on the same key.
	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	writeDoc := func(tx *Transaction, name, body string) {
		doc, err := tx.FindClass("Doc")
		require.NoError(t, err)
		d, err := tx.ConstructObject(doc, name, nil)
		require.NoError(t, err)
		blob, err := d.Data("body")
		require.NoError(t, err)
		require.NoError(t, blob.WriteAt([]byte(body), 0))
		require.NoError(t, tx.AddNamedItem(name, d))
	}
	writeDoc(t1, "doc1", "first body")
	writeDoc(t2, "doc2", "second body")

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	require.NoError(t, err, "key clash should remap, not fault")
	t2.Close()

	t3, err := db.ReadTransaction()
	require.NoError(t, err)
	defer t3.Close()
	for name, want := range map[string]string{"doc1": "first body", "doc2": "second body"} {
		obj, err := t3.NamedItem(name)
		require.NoError(t, err)
		blob, err := obj.Data("body")
		require.NoError(t, err)
		buf := make([]byte, blob.Size())
		blob.ReadAt(buf, 0)
		assert.Equal(t, want, string(buf), "blob %s", name)
	}
}

// Concurrent class definitions merge: dictionary additions fold in and the
// class list rebuild keeps both.
func TestConcurrentClassCreationMerges(t *testing.T) {
	db := testDB(t)

	t1, err := db.Transaction()
	require.NoError(t, err)
	t2, err := db.Transaction()
	require.NoError(t, err)

	c1 := t1.Classes()
	c1.Class("Alpha").String("a", false).KeyedList("kids", "Alpha", true, "a", "lexi")
	_, err = c1.ValidateAndComplete()
	require.NoError(t, err)
	c2 := t2.Classes()
	c2.Class("Beta").String("b", false)
	_, err = c2.ValidateAndComplete()
	require.NoError(t, err)

	_, err = t1.Commit()
	require.NoError(t, err)
	t1.Close()
	_, err = t2.Commit()
	require.NoError(t, err, "independent class definitions should merge")
	t2.Close()

	t3, err := db.ReadTransaction()
	require.NoError(t, err)
	defer t3.Close()
	_, err = t3.FindClass("Alpha")
	assert.NoError(t, err)
	_, err = t3.FindClass("Beta")
	assert.NoError(t, err)
}

// Sequential commits never enter the merge path: each bases on the
// current root and publishes unconditionally.
func TestSequentialCommitsPublish(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	for _, name := range []string{"one", "two", "three"} {
		tx, err := db.Transaction()
		require.NoError(t, err)
		addTag(t, tx, name)
		_, err = tx.Commit()
		require.NoError(t, err)
		tx.Close()
	}

	tx, err := db.ReadTransaction()
	require.NoError(t, err)
	defer tx.Close()
	assert.Equal(t, []string{"one", "three", "two"}, tagNames(t, tx))
}

func TestRunTransactionRetriesOnFault(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	// A transaction that committed before ours creates the fault window.
	blocker, err := db.Transaction()
	require.NoError(t, err)
	victim := addTag(t, blocker, "contested")
	_, err = blocker.Commit()
	require.NoError(t, err)
	blocker.Close()

	t1, err := db.Transaction()
	require.NoError(t, err)
	removed, err := tagsList(t, t1).Remove(victim.Ref())
	require.NoError(t, err)
	require.True(t, removed)

	// RunTransaction's first attempt removes concurrently with t1 and
	// faults; the retry sees the post-t1 state and succeeds by removing
	// nothing.
	attempts := 0
	_, err = db.RunTransaction(func(tx *Transaction) error {
		attempts++
		if attempts == 1 {
			removed, err := tagsList(t, tx).Remove(victim.Ref())
			require.NoError(t, err)
			require.True(t, removed)
			// Commit t1 between this attempt's reads and its commit.
			if _, err := t1.Commit(); err != nil {
				return err
			}
			t1.Close()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestIntroducedSnapshotBypassesMerge(t *testing.T) {
	db := testDB(t)
	defineTagWithSet(t, db)

	// Advance the path twice, keeping the older root's address.
	commit := func(name string) substrate.Address {
		tx, err := db.Transaction()
		require.NoError(t, err)
		addTag(t, tx, name)
		addr, err := tx.Commit()
		require.NoError(t, err)
		tx.Close()
		return addr
	}
	a1 := commit("x")
	commit("y")

	// Republishing the stale root rolls the path back without any merge.
	final, err := db.IntroduceSnapshot(a1)
	require.NoError(t, err)
	assert.Equal(t, a1, final)

	cur, err := db.ReadTransaction()
	require.NoError(t, err)
	defer cur.Close()
	assert.Equal(t, a1, cur.Base())
	assert.Equal(t, []string{"x"}, tagNames(t, cur))
}

func TestCommitEventsPublished(t *testing.T) {
	db := testDB(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	db.SetBroker(broker)

	defineTagWithSet(t, db)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventCommitPublished, ev.Type)
		assert.Equal(t, "testdb", ev.Metadata["path"])
		assert.NotEmpty(t, ev.Metadata["snapshot"])
	case <-time.After(2 * time.Second):
		t.Fatal("no commit event delivered")
	}
}
