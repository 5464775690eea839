package blockid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/thread"
)

func newEditor(t *testing.T, root *document.Node, opts ...Option) *document.Editor {
	t.Helper()
	e := document.NewEditor(root)
	require.NoError(t, New(opts...).Attach(e))
	return e
}

func ids(root *document.Node) []string {
	var out []string
	for _, b := range root.Blocks() {
		out = append(out, b.Attrs.BlockID)
	}
	return out
}

func TestAttach_IdentifiesExistingBlocks(t *testing.T) {
	e := newEditor(t, document.NewDoc(
		document.NewHeading(1, "Title"),
		document.NewParagraph("Body"),
		&document.Node{Type: document.TypeBlockquote, Children: []*document.Node{document.NewParagraph("quoted")}},
	))

	got := ids(e.Snapshot())
	require.Len(t, got, 3)
	seen := map[string]bool{}
	for _, id := range got {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "ids must be unique")
		seen[id] = true
	}
}

func TestIdentity_StableAcrossEdits(t *testing.T) {
	e := newEditor(t, document.NewDoc(document.NewParagraph("Hello")))
	before := ids(e.Snapshot())

	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("Hello %d", i)
		require.NoError(t, e.Apply(func(tx *document.Tx) error { return tx.SetText(before[0], text) }))
	}

	assert.Equal(t, before, ids(e.Snapshot()))
}

func TestIdentity_SplitYieldsExactlyOneNewID(t *testing.T) {
	e := newEditor(t, document.NewDoc(document.NewParagraph("Hello world"), document.NewParagraph("Other")))
	before := ids(e.Snapshot())
	a := before[0]

	var observed [][]string
	e.Observe(func(c document.Change) { observed = append(observed, ids(c.Root)) })

	require.NoError(t, e.Apply(func(tx *document.Tx) error { return tx.Split(a, 5) }))

	after := ids(e.Snapshot())
	require.Len(t, after, 3)
	assert.Equal(t, a, after[0])
	assert.NotEqual(t, a, after[1])
	assert.NotEqual(t, before[1], after[1])
	assert.NotEmpty(t, after[1])
	assert.Equal(t, before[1], after[2])

	require.Len(t, observed, 1)
	for _, id := range observed[0] {
		assert.NotEmpty(t, id, "observers never see an unidentified block")
	}
}

func TestIdentity_DuplicateReassigned(t *testing.T) {
	p1 := document.NewParagraph("one")
	p1.Attrs.BlockID = "same"
	p2 := document.NewParagraph("two")
	p2.Attrs.BlockID = "same"
	p2.Attrs.Threads = thread.Set{"g": {{ID: "1", Role: thread.RoleAnnotator, Content: "copied"}}}

	e := newEditor(t, document.NewDoc(p1, p2))
	snap := e.Snapshot()
	got := ids(snap)

	assert.Equal(t, "same", got[0])
	assert.NotEqual(t, "same", got[1])
	assert.Nil(t, snap.Blocks()[1].Attrs.Threads)
}

func TestIdentity_RegeneratesOnCollision(t *testing.T) {
	p := document.NewParagraph("taken")
	p.Attrs.BlockID = "id-1"

	seq := []string{"id-1", "id-1", "", "id-2"}
	i := 0
	gen := func() string {
		id := seq[i]
		i++
		return id
	}

	e := newEditor(t, document.NewDoc(p), WithGenerator(gen))
	require.NoError(t, e.Apply(func(tx *document.Tx) error { return tx.Insert("id-1", document.NewParagraph("new")) }))

	assert.Equal(t, []string{"id-1", "id-2"}, ids(e.Snapshot()))
}
