package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"AutoScript/internal/backend"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Greeting opens every design conversation.
const Greeting = "Hello! I'm your AI assistant for building Python automation scripts. Let's automate something amazing! " +
	"What kind of task would you like to automate? For example:\n\n" +
	"• Web scraping data from a website\n• Organizing files in a folder\n• Scheduling API calls\n• Processing CSV files\n\n" +
	"Share your idea, and I'll guide you step-by-step!"

// Message represents a single chat message. Messages are never modified after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an append-only, ordered message log.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

// New creates an empty conversation
func New() *Conversation {
	return &Conversation{now: time.Now}
}

// NewWithGreeting creates a conversation that starts with an assistant greeting.
func NewWithGreeting(greeting string) *Conversation {
	c := New()
	c.AppendAssistant(greeting)
	return c
}

// FromMessages rebuilds a conversation from previously stored messages, keeping their order.
func FromMessages(messages []Message) *Conversation {
	c := New()
	c.messages = append(c.messages, messages...)
	return c
}

// AppendUser appends a user message and returns it.
func (c *Conversation) AppendUser(content string) Message {
	return c.append(RoleUser, content)
}

// AppendAssistant appends an assistant message and returns it.
func (c *Conversation) AppendAssistant(content string) Message {
	return c.append(RoleAssistant, content)
}

func (c *Conversation) append(role Role, content string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	return msg
}

// Messages returns a copy of the log in insertion order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of stored messages
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// BuildPayload returns the wire messages for a request: systemPrompt as a system entry,
// followed by every stored message in order with its role.
func (c *Conversation) BuildPayload(systemPrompt string) []backend.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	payload := make([]backend.ChatMessage, 0, len(c.messages)+1)
	payload = append(payload, backend.ChatMessage{Role: backend.RoleSystem, Content: systemPrompt})
	for _, msg := range c.messages {
		payload = append(payload, backend.ChatMessage{Role: wireRole(msg.Role), Content: msg.Content})
	}
	return payload
}

// Snapshot renders the log as "sender: content" blocks separated by blank lines, where the
// assistant is named "ai".
func (c *Conversation) Snapshot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blocks := make([]string, len(c.messages))
	for i, msg := range c.messages {
		blocks[i] = senderName(msg.Role) + ": " + msg.Content
	}
	return strings.Join(blocks, "\n\n")
}

func wireRole(r Role) string {
	switch r {
	case RoleUser:
		return backend.RoleUser
	case RoleSystem:
		return backend.RoleSystem
	default:
		return backend.RoleAssistant
	}
}

func senderName(r Role) string {
	switch r {
	case RoleUser:
		return "user"
	case RoleSystem:
		return "system"
	default:
		return "ai"
	}
}
