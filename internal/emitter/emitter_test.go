package emitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/queue"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/storage"
)

func TestSpoolEmitWritesEnvelopeFiles(t *testing.T) {
	opts := source.Options{Identifier: "unit", BasePath: t.TempDir()}
	em, err := NewSpool(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = em.Close() })

	ctx := context.Background()
	first, err := em.Emit(ctx, message.Message{Module: "Test", Category: "Information", Payload: message.Text("one")})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	_, err = em.Emit(ctx, message.Message{Module: "Test", Category: "Information", Payload: message.Text("two")})
	require.NoError(t, err)

	entries, err := os.ReadDir(em.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// ReadDir sorts by name, which is emit order.
	var texts []string
	for _, e := range entries {
		assert.True(t, strings.HasSuffix(e.Name(), source.SpoolExt))
		data, err := os.ReadFile(filepath.Join(em.Dir(), e.Name()))
		require.NoError(t, err)
		msg, err := message.Unmarshal(data)
		require.NoError(t, err)
		text, err := msg.Text()
		require.NoError(t, err)
		texts = append(texts, text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)
}

func TestSpoolNextSeqStrictlyIncreasing(t *testing.T) {
	em := &Spool{}
	prev := em.nextSeq()
	for i := 0; i < 1000; i++ {
		next := em.nextSeq()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestEmitRequiresModule(t *testing.T) {
	em, err := NewSpool(source.Options{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = em.Emit(context.Background(), message.Message{Payload: message.Text("x")})
	assert.Error(t, err)
}

func TestSQLiteEmitPushesRow(t *testing.T) {
	opts := source.Options{Kind: source.KindSQLite, Identifier: "unit", BasePath: t.TempDir()}
	em, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = em.Close() })

	written, err := em.Emit(context.Background(), message.Message{Module: "Test", Category: "Error", Payload: message.Text("boom")})
	require.NoError(t, err)

	db, err := storage.OpenSQLite(context.Background(), opts.DatabasePath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	entries, err := queue.New(db).PopAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, written.ID, entries[0].ID)
	assert.Equal(t, "Error", entries[0].Category)
}

func TestOpenRejectsMemoryKind(t *testing.T) {
	_, err := Open(context.Background(), source.Options{Kind: source.KindMemory})
	assert.Error(t, err)
}
