package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const defaultSystemPrompt = `You are a helpful voice assistant answering a phone call.
Keep replies short and conversational: one to three sentences, no lists, no markdown.`

// Generator is the slice of the genai client the engine calls.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
	// MaxTurns bounds the history kept per session (user+model pairs).
	MaxTurns int
}

type session struct {
	tenantID  string
	history   []*genai.Content
	createdAt time.Time
}

// GeminiEngine keeps per-session history in memory and asks Gemini for each reply.
// The session registry is owned by the engine instance.
type GeminiEngine struct {
	gen      Generator
	model    string
	system   string
	maxTurns int
	log      *slog.Logger
	clock    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewGemini builds an engine backed by the Gemini API.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("conversation: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: gemini client: %w", err)
	}
	return NewGeminiWithGenerator(client.Models, cfg, log), nil
}

func NewGeminiWithGenerator(gen Generator, cfg GeminiConfig, log *slog.Logger) *GeminiEngine {
	if log == nil {
		log = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	system := strings.TrimSpace(cfg.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &GeminiEngine{
		gen:      gen,
		model:    model,
		system:   system,
		maxTurns: maxTurns,
		log:      log,
		clock:    time.Now,
		sessions: map[string]*session{},
	}
}

func (e *GeminiEngine) CreateSession(_ context.Context, tenantID string) (string, error) {
	id := uuid.NewString()
	e.mu.Lock()
	e.sessions[id] = &session{tenantID: tenantID, createdAt: e.clock()}
	e.mu.Unlock()
	return id, nil
}

func (e *GeminiEngine) EndSession(_ context.Context, sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

// SessionCount reports how many sessions are open.
func (e *GeminiEngine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *GeminiEngine) Reply(ctx context.Context, msg Message) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	e.mu.Lock()
	s, ok := e.sessions[msg.SessionID]
	if !ok {
		e.mu.Unlock()
		return "", ErrUnknownSession
	}
	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	e.mu.Unlock()

	user := genai.NewContentFromText(text, genai.RoleUser)
	contents = append(contents, user)

	system := e.system
	if msg.Channel.Name != "" {
		system += "\nThe caller's number is " + msg.Channel.Name + "."
	}
	resp, err := e.gen.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("conversation: generate: %w", err)
	}
	reply := strings.TrimSpace(resp.Text())

	e.mu.Lock()
	if s, ok := e.sessions[msg.SessionID]; ok && reply != "" {
		s.history = append(s.history, user, genai.NewContentFromText(reply, genai.RoleModel))
		if limit := e.maxTurns * 2; len(s.history) > limit {
			s.history = s.history[len(s.history)-limit:]
		}
	}
	e.mu.Unlock()

	e.log.Debug("conversation reply", "session_id", msg.SessionID, "sender", msg.Sender, "chars", len(reply))
	return reply, nil
}
