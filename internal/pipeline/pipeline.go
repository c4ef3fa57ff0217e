// Package pipeline turns a design conversation into an artifact bundle and refines it.
//
// A Pipeline belongs to one session. Generate, Refine, Chat and Discuss are mutually
// exclusive: while one is in flight the others fail fast with ErrBusy instead of queueing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"AutoScript/internal/artifact"
	"AutoScript/internal/backend"
	"AutoScript/internal/cache"
	"AutoScript/internal/conversation"
	"AutoScript/internal/executor"
	"AutoScript/internal/parser"
	"AutoScript/internal/session"
)

var (
	// ErrBusy is returned when another flow of the same session is still running.
	ErrBusy = errors.New("another generation or refinement is in progress")
	// ErrInvalidTransition is returned for a lifecycle move the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrEmptyInput is returned for blank user text.
	ErrEmptyInput = errors.New("input is empty")
	// ErrNotConfigured is returned when no model or credential was selected.
	ErrNotConfigured = errors.New("model and API key must be selected first")
)

// Completer executes one completion request with retries
type Completer interface {
	Execute(ctx context.Context, spec backend.RequestSpec, opts ...executor.CallOption) (string, error)
}

// FlowSettings are the sampling parameters of one flow
type FlowSettings struct {
	MaxTokens   int
	Temperature float64
}

// Settings holds the per-flow sampling parameters
type Settings struct {
	Chat     FlowSettings
	Generate FlowSettings
	Refine   FlowSettings
	Discuss  FlowSettings
}

// DefaultSettings returns the sampling parameters each flow is tuned for.
func DefaultSettings() Settings {
	return Settings{
		Chat:     FlowSettings{MaxTokens: 5000, Temperature: 0.7},
		Generate: FlowSettings{MaxTokens: 8000, Temperature: 0.6},
		Refine:   FlowSettings{MaxTokens: 9000, Temperature: 0.4},
		Discuss:  FlowSettings{MaxTokens: 2000, Temperature: 0.7},
	}
}

// Options configures a Pipeline
type Options struct {
	Session   *session.Session
	Completer Completer
	// Handoff receives the bundle after each successful commit and every appended
	// message. Optional.
	Handoff session.Store
	// Cache serves repeated chat turns. Optional.
	Cache    *cache.Cache
	Settings Settings
	Logger   *slog.Logger
	// Greeting seeds the design conversation when non-empty and History is empty.
	Greeting string
	// History and DiscussionHistory restore the threads of a resumed session.
	History           []conversation.Message
	DiscussionHistory []conversation.Message
}

// RefineResult is the outcome of a successful refinement
type RefineResult struct {
	Bundle   artifact.Bundle
	Previous artifact.Bundle
	Changes  artifact.Changes
}

// Pipeline composes conversation, executor, parser and artifact store for one session.
type Pipeline struct {
	sess         *session.Session
	completer    Completer
	handoff      session.Store
	cache        *cache.Cache
	settings     Settings
	logger       *slog.Logger
	conversation *conversation.Conversation
	discussion   *conversation.Conversation
	store        *artifact.Store
	guard        *semaphore.Weighted

	mu    sync.Mutex
	state State
}

// New creates a Pipeline. If the session already carries a bundle it is restored into the store;
// a fresh design conversation opens with the greeting.
func New(opts Options) (*Pipeline, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}

	settings := opts.Settings
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conv := conversation.FromMessages(opts.History)

	p := &Pipeline{
		sess:         opts.Session,
		completer:    opts.Completer,
		handoff:      opts.Handoff,
		cache:        opts.Cache,
		settings:     settings,
		logger:       logger.With("session_id", opts.Session.ID),
		conversation: conv,
		discussion:   conversation.FromMessages(opts.DiscussionHistory),
		store:        artifact.NewStore(),
		guard:        semaphore.NewWeighted(1),
		state:        StateNoArtifact,
	}

	if conv.Len() == 0 && opts.Greeting != "" {
		p.remember(context.Background(), session.ThreadDesign, conv.AppendAssistant(opts.Greeting))
	}

	if b, ok := opts.Session.Bundle(); ok {
		p.store.Replace(b)
		p.state = StateReady
		p.logger.Info("restored bundle from session")
	}

	return p, nil
}

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Conversation returns the design conversation
func (p *Pipeline) Conversation() *conversation.Conversation { return p.conversation }

// Discussion returns the post-generation discussion history
func (p *Pipeline) Discussion() *conversation.Conversation { return p.discussion }

// Store returns the artifact store
func (p *Pipeline) Store() *artifact.Store { return p.store }

// Session returns the session state
func (p *Pipeline) Session() *session.Session { return p.sess }

func (p *Pipeline) acquire() error {
	if !p.guard.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

func (p *Pipeline) release() { p.guard.Release(1) }

func (p *Pipeline) transition(to State) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.state
	if !canTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	p.state = to
	p.logger.Debug("state transition", "from", from.String(), "to", to.String())
	return from, nil
}

func (p *Pipeline) restore(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Debug("state transition", "from", p.state.String(), "to", to.String())
	p.state = to
}

func (p *Pipeline) spec(flow FlowSettings, messages []backend.ChatMessage) backend.RequestSpec {
	return backend.RequestSpec{
		Model:       p.sess.ModelID,
		Credential:  p.sess.Credential,
		Messages:    messages,
		MaxTokens:   flow.MaxTokens,
		Temperature: flow.Temperature,
	}
}

// Chat sends one design-phase turn. The user message is appended before the call; on
// success the reply is appended, on exhausted retries the fallback message is appended.
func (p *Pipeline) Chat(ctx context.Context, text string) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyInput
	}
	if !p.sess.Ready() {
		return conversation.Message{}, ErrNotConfigured
	}
	if err := p.acquire(); err != nil {
		return conversation.Message{}, err
	}
	defer p.release()

	p.remember(ctx, session.ThreadDesign, p.conversation.AppendUser(text))
	spec := p.spec(p.settings.Chat, p.conversation.BuildPayload(ChatPrompt))

	var key string
	if p.cache != nil {
		key = cache.GenerateCacheKey(spec.Model, spec.Messages)
		if cached, ok := p.cache.Load(key); ok {
			p.logger.Info("cache hit", "key", key[:16])
			msg := p.conversation.AppendAssistant(cached)
			p.remember(ctx, session.ThreadDesign, msg)
			return msg, nil
		}
	}

	reply, err := p.completer.Execute(ctx, spec,
		executor.WithName("chat"),
		executor.WithFallback(ChatFallback),
	)
	if err != nil {
		p.appendFallback(ctx, session.ThreadDesign, err)
		return conversation.Message{}, err
	}

	if p.cache != nil {
		p.cache.Store(key, reply)
	}
	msg := p.conversation.AppendAssistant(reply)
	p.remember(ctx, session.ThreadDesign, msg)
	return msg, nil
}

// Generate builds a fresh bundle from the whole design conversation and commits it to the
// store. On failure the store is left as it was and, once retries are exhausted, the
// fallback message is appended to the conversation.
func (p *Pipeline) Generate(ctx context.Context) (artifact.Bundle, error) {
	if !p.sess.Ready() {
		return artifact.Bundle{}, ErrNotConfigured
	}
	if err := p.acquire(); err != nil {
		return artifact.Bundle{}, err
	}
	defer p.release()

	prev, err := p.transition(StateGenerating)
	if err != nil {
		return artifact.Bundle{}, err
	}

	snapshot := p.conversation.Snapshot()
	spec := p.spec(p.settings.Generate, []backend.ChatMessage{
		{Role: backend.RoleSystem, Content: GeneratePrompt},
		{Role: backend.RoleUser, Content: generateRequest(snapshot)},
	})

	p.logger.Info("generating bundle", "messages", p.conversation.Len())
	raw, err := p.completer.Execute(ctx, spec,
		executor.WithName("generate"),
		executor.WithFallback(GenerateFallback),
		executor.WithCheck(parser.CheckBundle),
	)
	if err == nil {
		var sections parser.Sections
		sections, err = parser.ParseBundle(raw)
		if err == nil {
			bundle := artifact.Bundle{
				PrimaryFile:        sections.PrimaryFile,
				Manifest:           sections.Manifest,
				Docs:               sections.Docs,
				SourceConversation: snapshot,
				CreatedAt:          time.Now(),
			}
			p.commit(ctx, bundle)
			p.restore(StateReady)
			p.logger.Info("bundle generated", "version", p.store.Version())
			return bundle, nil
		}
	}

	p.restore(prev)
	p.appendFallback(ctx, session.ThreadDesign, err)
	p.logger.Error("generation failed", "error", err)
	return artifact.Bundle{}, fmt.Errorf("failed to generate: %w", err)
}

// Refine asks for an updated bundle given the current one and a modification instruction.
// The conversation is not touched. On failure the previous bundle stays in the store and the
// error carries the message to display.
func (p *Pipeline) Refine(ctx context.Context, instruction string) (RefineResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return RefineResult{}, ErrEmptyInput
	}
	if !p.sess.Ready() {
		return RefineResult{}, ErrNotConfigured
	}
	if err := p.acquire(); err != nil {
		return RefineResult{}, err
	}
	defer p.release()

	current, ok := p.store.Get()
	if !ok {
		return RefineResult{}, artifact.ErrNoArtifact
	}
	if _, err := p.transition(StateRefining); err != nil {
		return RefineResult{}, err
	}

	spec := p.spec(p.settings.Refine, []backend.ChatMessage{
		{Role: backend.RoleSystem, Content: RefinePrompt},
		{Role: backend.RoleUser, Content: refineRequest(current, instruction)},
	})

	p.logger.Info("refining bundle", "version", p.store.Version())
	raw, err := p.completer.Execute(ctx, spec,
		executor.WithName("refine"),
		executor.WithCheck(parser.CheckBundle),
	)
	if err == nil {
		var sections parser.Sections
		sections, err = parser.ParseBundle(raw)
		if err == nil {
			bundle := artifact.Bundle{
				PrimaryFile:        sections.PrimaryFile,
				Manifest:           sections.Manifest,
				Docs:               sections.Docs,
				SourceConversation: current.SourceConversation,
				CreatedAt:          time.Now(),
			}
			p.commit(ctx, bundle)
			p.restore(StateReady)

			changes := artifact.Diff(current, bundle)
			p.logger.Info("bundle refined", "version", p.store.Version(), "changes", changes.String())
			return RefineResult{Bundle: bundle, Previous: current, Changes: changes}, nil
		}
	}

	p.restore(StateReady)
	var exhausted *executor.ExhaustedError
	if errors.As(err, &exhausted) {
		exhausted.Fallback = RefineFallback(exhausted.Attempts)
	}
	p.logger.Error("refinement failed", "error", err)
	return RefineResult{}, fmt.Errorf("failed to refine: %w", err)
}

// Discuss sends one turn of the post-generation discussion, which keeps its own history and
// prefixes the design conversation to each question.
func (p *Pipeline) Discuss(ctx context.Context, text string) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyInput
	}
	if !p.sess.Ready() {
		return conversation.Message{}, ErrNotConfigured
	}
	if err := p.acquire(); err != nil {
		return conversation.Message{}, err
	}
	defer p.release()

	current, ok := p.store.Get()
	if !ok {
		return conversation.Message{}, artifact.ErrNoArtifact
	}

	messages := p.discussion.BuildPayload(DiscussPrompt)
	messages = append(messages, backend.ChatMessage{
		Role:    backend.RoleUser,
		Content: discussRequest(current.SourceConversation, text),
	})
	p.remember(ctx, session.ThreadDiscussion, p.discussion.AppendUser(text))

	reply, err := p.completer.Execute(ctx, p.spec(p.settings.Discuss, messages),
		executor.WithName("discuss"),
		executor.WithFallback(DiscussFallback),
	)
	if err != nil {
		p.appendFallback(ctx, session.ThreadDiscussion, err)
		return conversation.Message{}, err
	}
	msg := p.discussion.AppendAssistant(reply)
	p.remember(ctx, session.ThreadDiscussion, msg)
	return msg, nil
}

// commit replaces the store and mirrors the bundle into the session handoff.
func (p *Pipeline) commit(ctx context.Context, bundle artifact.Bundle) {
	p.store.Replace(bundle)
	p.sess.SetBundle(bundle)

	if p.handoff == nil {
		return
	}
	if err := session.SaveBundle(ctx, p.handoff, p.sess); err != nil {
		p.logger.Warn("failed to persist bundle", "error", err)
	}
}

func (p *Pipeline) thread(name string) *conversation.Conversation {
	if name == session.ThreadDiscussion {
		return p.discussion
	}
	return p.conversation
}

func (p *Pipeline) appendFallback(ctx context.Context, thread string, err error) {
	if text, ok := executor.FallbackMessage(err); ok {
		p.remember(ctx, thread, p.thread(thread).AppendAssistant(text))
	}
}

// remember writes msg through to the handoff so a resumed session sees the same history.
func (p *Pipeline) remember(ctx context.Context, thread string, msg conversation.Message) {
	if p.handoff == nil {
		return
	}
	// A cancelled request still leaves its user turn in memory; keep the store in step.
	if err := p.handoff.AppendMessage(context.WithoutCancel(ctx), thread, msg); err != nil {
		p.logger.Warn("failed to persist message", "thread", thread, "error", err)
	}
}
