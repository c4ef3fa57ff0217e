package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoScript/internal/artifact"
	"AutoScript/internal/config"
	"AutoScript/internal/conversation"
	"AutoScript/internal/executor"
	"AutoScript/internal/pipeline"
	"AutoScript/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "k1"
	cfg.DBPath = filepath.Join(t.TempDir(), "autoscript.db")
	return cfg
}

func TestOpenSession_ResumesBundleFromSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	first, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	sess := first.session
	sess.SetBundle(artifact.Bundle{PrimaryFile: "print(1)", Manifest: "a", Docs: "d", SourceConversation: "user: hi"})
	require.NoError(t, session.SaveBundle(ctx, first.store, sess))
	require.NoError(t, first.store.Close())

	cfg.SessionID = sess.ID
	cfg.APIKey = "k2"
	resumed, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer resumed.store.Close()

	assert.Equal(t, sess.ID, resumed.session.ID)
	assert.Equal(t, "k2", resumed.session.Credential)
	b, ok := resumed.session.Bundle()
	require.True(t, ok)
	assert.Equal(t, "print(1)", b.PrimaryFile)
	assert.Equal(t, "user: hi", b.SourceConversation)
}

func TestOpenSession_MemoryWhenNoDB(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "k"
	cfg.DBPath = ""

	opened, err := openSession(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, opened.store)
	assert.True(t, opened.session.Ready())
	assert.Empty(t, opened.history)
}

// completionServer answers every request with the next scripted content.
func completionServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(replies) {
			i = len(replies) - 1
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": replies[i]}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newPipeline(t *testing.T, opened openedSession, baseURL string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{
		Session:           opened.session,
		Completer:         executor.New(executor.Config{BaseURL: baseURL, Logger: discardLogger()}),
		Handoff:           opened.store,
		History:           opened.history,
		DiscussionHistory: opened.discussion,
		Logger:            discardLogger(),
		Greeting:          conversation.Greeting,
	})
	require.NoError(t, err)
	return p
}

func TestResume_RestoresConversationBeforeRegenerate(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	server := completionServer(t,
		"Which folder?",
		"CODE---REQUIREMENTS---REQ---README---DOC",
		"It renames files by date.",
		"CODE2---REQUIREMENTS---REQ2---README---DOC2",
	)

	first, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	p := newPipeline(t, first, server.URL)
	_, err = p.Chat(ctx, "rename my photos by date")
	require.NoError(t, err)
	_, err = p.Generate(ctx)
	require.NoError(t, err)
	_, err = p.Discuss(ctx, "what does it do?")
	require.NoError(t, err)
	wantDesign := p.Conversation().Messages()
	wantDiscussion := p.Discussion().Messages()
	require.NoError(t, first.store.Close())

	cfg.SessionID = first.session.ID
	resumed, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer resumed.store.Close()

	require.Len(t, resumed.history, len(wantDesign))
	for i := range wantDesign {
		assert.Equal(t, wantDesign[i].ID, resumed.history[i].ID)
		assert.Equal(t, wantDesign[i].Role, resumed.history[i].Role)
		assert.Equal(t, wantDesign[i].Content, resumed.history[i].Content)
	}
	require.Len(t, resumed.discussion, len(wantDiscussion))

	q := newPipeline(t, resumed, server.URL)
	assert.Equal(t, pipeline.StateReady, q.State())
	assert.Equal(t, len(wantDesign), q.Conversation().Len(), "no second greeting on resume")

	// Regenerating after resume works from the restored design conversation
	bundle, err := q.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CODE2", bundle.PrimaryFile)
	assert.Contains(t, bundle.SourceConversation, "user: rename my photos by date\n\nai: Which folder?")
}

func TestResume_EmptyPrimarySection(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	server := completionServer(t, "---REQUIREMENTS---REQ---README---DOC")

	first, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	_, err = newPipeline(t, first, server.URL).Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, first.store.Close())

	cfg.SessionID = first.session.ID
	resumed, err := openSession(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer resumed.store.Close()

	q := newPipeline(t, resumed, server.URL)
	assert.Equal(t, pipeline.StateReady, q.State())
	b, ok := q.Store().Get()
	require.True(t, ok)
	assert.Equal(t, "", b.PrimaryFile)
	assert.Equal(t, "REQ", b.Manifest)
	assert.Equal(t, "DOC", b.Docs)
}

func TestSettingsFrom(t *testing.T) {
	assert.Equal(t, pipeline.DefaultSettings(), settingsFrom(config.Default().Flows))
}
