package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoScript/internal/artifact"
	"AutoScript/internal/conversation"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "handoff.db"), "session_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestNew(t *testing.T) {
	s := New("x-ai/grok-4-fast:free", "key")

	assert.True(t, strings.HasPrefix(s.ID, "session_"))
	assert.True(t, s.Ready())
	assert.False(t, New("", "key").Ready())
	assert.False(t, New("model", "").Ready())

	_, ok := s.Bundle()
	assert.False(t, ok)
}

func TestBundleRoundTrip(t *testing.T) {
	s := New("m", "k")
	b := artifact.Bundle{PrimaryFile: "CODE", Manifest: "REQ", Docs: "DOC", SourceConversation: "user: hi"}
	s.SetBundle(b)

	got, ok := s.Bundle()
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestStore_GetSet(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, KeyGeneratedCode)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, KeyGeneratedCode, "print(1)"))
			v, ok, err := store.Get(ctx, KeyGeneratedCode)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "print(1)", v)

			require.NoError(t, store.Set(ctx, KeyGeneratedCode, "print(2)"))
			v, _, _ = store.Get(ctx, KeyGeneratedCode)
			assert.Equal(t, "print(2)", v)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := New("model-a", "secret")
			s.SetBundle(artifact.Bundle{PrimaryFile: "CODE", Manifest: "REQ", Docs: "DOC", SourceConversation: "ctx"})
			require.NoError(t, Save(ctx, store, s))

			loaded, err := Load(ctx, store, s.ID)
			require.NoError(t, err)
			assert.Equal(t, s.ID, loaded.ID)
			assert.Equal(t, "model-a", loaded.ModelID)
			assert.Empty(t, loaded.Credential, "credential is never persisted")
			assert.True(t, loaded.HasBundle)
			assert.Equal(t, "CODE", loaded.PrimaryFile)
			assert.Equal(t, "REQ", loaded.Manifest)
			assert.Equal(t, "DOC", loaded.Docs)
			assert.Equal(t, "ctx", loaded.ConversationContext)
		})
	}
}

func TestSaveBundleKeepsSelection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeySelectedModel, "chosen"))

	s := &Session{ID: "x"}
	s.SetBundle(artifact.Bundle{PrimaryFile: "A", Manifest: "B", Docs: "C"})
	require.NoError(t, SaveBundle(ctx, store, s))

	loaded, err := Load(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "chosen", loaded.ModelID)
	assert.Equal(t, "A", loaded.PrimaryFile)
}

func TestSave_NeverWritesCredential(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := New("m", "top-secret")
			require.NoError(t, Save(ctx, store, s))
			s.SetBundle(artifact.Bundle{PrimaryFile: "CODE"})
			require.NoError(t, SaveBundle(ctx, store, s))

			_, ok, err := store.Get(ctx, "apiKey")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBundle_EmptyPrimarySurvivesResume(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := New("m", "k")
			require.NoError(t, Save(ctx, store, s))

			// "---REQUIREMENTS---REQ---README---DOC" parses to an empty script section
			b := artifact.Bundle{PrimaryFile: "", Manifest: "REQ", Docs: "DOC", SourceConversation: "user: hi"}
			s.SetBundle(b)
			got, ok := s.Bundle()
			require.True(t, ok)
			assert.Equal(t, b, got)
			require.NoError(t, SaveBundle(ctx, store, s))

			loaded, err := Load(ctx, store, s.ID)
			require.NoError(t, err)
			got, ok = loaded.Bundle()
			require.True(t, ok)
			assert.Equal(t, b, got)
		})
	}
}

func TestLoad_NoBundleStored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, Save(ctx, store, New("m", "k")))

	loaded, err := Load(ctx, store, "any")
	require.NoError(t, err)
	_, ok := loaded.Bundle()
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, KeyBundlePresent, "perhaps"))
	_, err = Load(ctx, store, "any")
	assert.Error(t, err)
}

func TestStore_Messages(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			conv := conversation.New()
			first := conv.AppendAssistant("Hello")
			second := conv.AppendUser("rename my files")
			aside := conversation.New().AppendUser("what does line 3 do?")

			require.NoError(t, store.AppendMessage(ctx, ThreadDesign, first))
			require.NoError(t, store.AppendMessage(ctx, ThreadDiscussion, aside))
			require.NoError(t, store.AppendMessage(ctx, ThreadDesign, second))

			design, err := store.Messages(ctx, ThreadDesign)
			require.NoError(t, err)
			require.Len(t, design, 2)
			for i, want := range []conversation.Message{first, second} {
				assert.Equal(t, want.ID, design[i].ID)
				assert.Equal(t, want.Role, design[i].Role)
				assert.Equal(t, want.Content, design[i].Content)
				assert.True(t, want.Timestamp.Equal(design[i].Timestamp))
			}

			discussion, err := store.Messages(ctx, ThreadDiscussion)
			require.NoError(t, err)
			require.Len(t, discussion, 1)
			assert.Equal(t, "what does line 3 do?", discussion[0].Content)
		})
	}
}

func TestSQLiteStore_ScopedBySession(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := OpenSQLiteStore(path, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLiteStore(path, "b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Set(ctx, KeyReadme, "readme-a"))
	require.NoError(t, a.AppendMessage(ctx, ThreadDesign, conversation.New().AppendUser("only in a")))

	_, ok, err := b.Get(ctx, KeyReadme)
	require.NoError(t, err)
	assert.False(t, ok)
	msgs, err := b.Messages(ctx, ThreadDesign)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
