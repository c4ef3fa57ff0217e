package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"AutoScript/internal/artifact"
)

// Fixed handoff keys. The credential has no key: it is never written to a store.
const (
	KeySelectedModel       = "selectedModel"
	KeyBundlePresent       = "bundlePresent"
	KeyGeneratedCode       = "generatedCode"
	KeyRequirements        = "requirementsTxt"
	KeyReadme              = "readmeMd"
	KeyConversationContext = "conversationContext"
)

// Session is the typed state handed between pipeline stages
type Session struct {
	ID                  string    `json:"id"`
	StartTime           time.Time `json:"start_time"`
	ModelID             string    `json:"model_id"`
	Credential          string    `json:"-"`
	HasBundle           bool      `json:"has_bundle"`
	PrimaryFile         string    `json:"primary_file"`
	Manifest            string    `json:"manifest"`
	Docs                string    `json:"docs"`
	ConversationContext string    `json:"conversation_context"`
}

// New creates a session for the given model and credential
func New(modelID, credential string) *Session {
	return &Session{
		ID:         "session_" + uuid.NewString(),
		StartTime:  time.Now(),
		ModelID:    modelID,
		Credential: credential,
	}
}

// Ready reports whether a model and credential were selected.
func (s *Session) Ready() bool {
	return s.ModelID != "" && s.Credential != ""
}

// Bundle returns the generated bundle held by the session, if any. Any section may be empty.
func (s *Session) Bundle() (artifact.Bundle, bool) {
	if !s.HasBundle {
		return artifact.Bundle{}, false
	}
	return artifact.Bundle{
		PrimaryFile:        s.PrimaryFile,
		Manifest:           s.Manifest,
		Docs:               s.Docs,
		SourceConversation: s.ConversationContext,
	}, true
}

// SetBundle copies all bundle fields into the session.
func (s *Session) SetBundle(b artifact.Bundle) {
	s.HasBundle = true
	s.PrimaryFile = b.PrimaryFile
	s.Manifest = b.Manifest
	s.Docs = b.Docs
	s.ConversationContext = b.SourceConversation
}

func (s *Session) values() map[string]string {
	return map[string]string{
		KeySelectedModel:       s.ModelID,
		KeyBundlePresent:       strconv.FormatBool(s.HasBundle),
		KeyGeneratedCode:       s.PrimaryFile,
		KeyRequirements:        s.Manifest,
		KeyReadme:              s.Docs,
		KeyConversationContext: s.ConversationContext,
	}
}

// Save writes every field of s except the credential to store in one call
func Save(ctx context.Context, store Store, s *Session) error {
	if err := store.SetAll(ctx, s.values()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SaveBundle writes only the bundle fields of s
func SaveBundle(ctx context.Context, store Store, s *Session) error {
	values := s.values()
	delete(values, KeySelectedModel)
	if err := store.SetAll(ctx, values); err != nil {
		return fmt.Errorf("failed to save bundle: %w", err)
	}
	return nil
}

// Load reads a session back from store. Missing keys leave fields empty; the credential is
// always empty and must be supplied by the caller.
func Load(ctx context.Context, store Store, id string) (*Session, error) {
	s := &Session{ID: id, StartTime: time.Now()}
	var present string
	fields := map[string]*string{
		KeySelectedModel:       &s.ModelID,
		KeyBundlePresent:       &present,
		KeyGeneratedCode:       &s.PrimaryFile,
		KeyRequirements:        &s.Manifest,
		KeyReadme:              &s.Docs,
		KeyConversationContext: &s.ConversationContext,
	}
	for key, dst := range fields {
		value, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if ok {
			*dst = value
		}
	}
	if present != "" {
		hasBundle, err := strconv.ParseBool(present)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyBundlePresent, present, err)
		}
		s.HasBundle = hasBundle
	}
	return s, nil
}
