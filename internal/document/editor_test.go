package document

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/thread"
)

func seeded(ids ...string) *Node {
	doc := NewDoc()
	for _, id := range ids {
		p := NewParagraph("text of " + id)
		p.Attrs.BlockID = id
		doc.Children = append(doc.Children, p)
	}
	return doc
}

func TestEditor_ApplyCommitsAndNotifies(t *testing.T) {
	e := NewEditor(seeded("a"))

	var got []Change
	e.Observe(func(c Change) { got = append(got, c) })

	require.NoError(t, e.Apply(func(tx *Tx) error { return tx.SetText("a", "Hello") }))

	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Version)
	assert.Equal(t, "Hello", got[0].Root.Find("a").TextContent())
	assert.Equal(t, "Hello", e.Snapshot().Find("a").TextContent())
}

func TestEditor_FailedApplyCommitsNothing(t *testing.T) {
	e := NewEditor(seeded("a"))
	notified := false
	e.Observe(func(Change) { notified = true })

	err := e.Apply(func(tx *Tx) error {
		_ = tx.SetText("a", "changed")
		return tx.Delete("missing")
	})
	require.ErrorIs(t, err, ErrBlockNotFound)
	assert.False(t, notified)
	assert.Equal(t, "text of a", e.Snapshot().Find("a").TextContent())
	assert.Equal(t, uint64(0), e.Version())
}

func TestEditor_NoopDoesNotNotify(t *testing.T) {
	e := NewEditor(seeded("a"))
	notified := false
	e.Observe(func(Change) { notified = true })

	require.NoError(t, e.Apply(func(*Tx) error { return nil }))
	assert.False(t, notified)
}

func TestEditor_SnapshotDoesNotAlias(t *testing.T) {
	e := NewEditor(seeded("a"))
	snap := e.Snapshot()
	snap.Find("a").Children[0].Text = "mutated"
	snap.Find("a").Attrs.BlockID = "zzz"

	assert.True(t, e.Has("a"))
	assert.Equal(t, "text of a", e.Snapshot().Find("a").TextContent())
}

func TestEditor_PostProcessorRunsInSameTransaction(t *testing.T) {
	e := NewEditor(seeded("a"))
	e.Use(func(tx *Tx) {
		for _, b := range tx.Root().Blocks() {
			if b.Attrs.BlockID == "" {
				b.Attrs.BlockID = "fresh"
				tx.Touch()
			}
		}
	})

	var seen []*Node
	e.Observe(func(c Change) { seen = append(seen, c.Root) })

	require.NoError(t, e.Apply(func(tx *Tx) error { return tx.Insert("a", NewParagraph("new")) }))

	require.Len(t, seen, 1, "correction must not produce a second commit")
	assert.NotNil(t, seen[0].Find("fresh"))
}

func TestEditor_ConcurrentAppliesSerialize(t *testing.T) {
	e := NewEditor(seeded("a"))
	var mu sync.Mutex
	var versions []uint64
	e.Observe(func(c Change) {
		mu.Lock()
		versions = append(versions, c.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Apply(func(tx *Tx) error {
				n := tx.Find("a")
				n.Children = inline(n.TextContent() + "x")
				tx.Touch()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, versions, 50)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v, "observers must see commits in order")
	}
	assert.Len(t, e.Snapshot().Find("a").TextContent(), len("text of a")+50)
}

func TestTx_SplitKeepsIDOnFirstHalf(t *testing.T) {
	e := NewEditor(seeded("a"))
	require.NoError(t, e.Apply(func(tx *Tx) error {
		if err := tx.SetThreads("a", thread.Set{"g": {{ID: "1", Role: thread.RoleAnnotator, Content: "x"}}}); err != nil {
			return err
		}
		return tx.Split("a", 4)
	}))

	blocks := e.Snapshot().Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, "a", blocks[0].Attrs.BlockID)
	assert.Equal(t, "text", blocks[0].TextContent())
	assert.NotNil(t, blocks[0].Attrs.Threads)
	assert.Equal(t, "", blocks[1].Attrs.BlockID)
	assert.Equal(t, " of a", blocks[1].TextContent())
	assert.Nil(t, blocks[1].Attrs.Threads)
}

func TestTx_SplitOutOfRange(t *testing.T) {
	e := NewEditor(seeded("a"))
	err := e.Apply(func(tx *Tx) error { return tx.Split("a", 999) })
	assert.Error(t, err)
}

func TestTx_JoinAndDelete(t *testing.T) {
	e := NewEditor(seeded("a", "b", "c"))
	require.NoError(t, e.Apply(func(tx *Tx) error { return tx.Join("a", "b") }))
	require.NoError(t, e.Apply(func(tx *Tx) error { return tx.Delete("c") }))

	snap := e.Snapshot()
	require.Len(t, snap.Blocks(), 1)
	assert.Equal(t, "text of atext of b", snap.Find("a").TextContent())

	err := e.Apply(func(tx *Tx) error { return tx.Delete("c") })
	assert.True(t, errors.Is(err, ErrBlockNotFound))
}

func TestTx_InsertAfterNested(t *testing.T) {
	p := NewParagraph("quoted")
	p.Attrs.BlockID = "q"
	doc := NewDoc(&Node{Type: TypeBlockquote, Children: []*Node{p}})
	e := NewEditor(doc)

	require.NoError(t, e.Apply(func(tx *Tx) error { return tx.Insert("q", NewHeading(2, "after")) }))

	quote := e.Snapshot().Children[0]
	require.Len(t, quote.Children, 2)
	assert.Equal(t, TypeHeading, quote.Children[1].Type)
}
