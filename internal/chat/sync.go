// Package chat orchestrates conversation exchanges: optimistic local
// updates, the streaming reply, and rollback when the backend fails
// mid-exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"CompassChat/internal/backend"
	"CompassChat/internal/cache"
	"CompassChat/internal/store"
	"CompassChat/internal/stream"
	"CompassChat/internal/transport"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// titleLimit caps the heuristic session title taken from the first user
// message.
const titleLimit = 50

// ErrExchangeInFlight is returned when a session already has a pending
// exchange. Input should be disabled while streaming; this guard enforces
// the one-pending-exchange invariant regardless.
var ErrExchangeInFlight = errors.New("an exchange is already in flight for this session")

// ErrNoAgents is returned when the backend has no configured responders.
var ErrNoAgents = errors.New("no agents available")

// State tracks where a session is in its exchange lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateRollback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateRollback:
		return "error-rollback"
	default:
		return "unknown"
	}
}

// Notifier surfaces a user-visible failure notice.
type Notifier func(notice string)

// Options configures a Synchronizer.
type Options struct {
	Store     *store.Store
	Client    *transport.Client
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Notify    Notifier
	Streaming bool
	AgentTTL  time.Duration
}

// Synchronizer drives session state against the backend: it creates
// sessions, sends messages, applies optimistic updates, and rolls them back
// on failure.
type Synchronizer struct {
	store     *store.Store
	client    *transport.Client
	asm       *stream.Assembler
	agents    *cache.Agents
	logger    *slog.Logger
	tracer    trace.Tracer
	notify    Notifier
	streaming bool

	mu      sync.Mutex
	pending map[string]State
}

// New creates a synchronizer.
func New(opts Options) *Synchronizer {
	if opts.Notify == nil {
		opts.Notify = func(string) {}
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("chat")
	}
	return &Synchronizer{
		store:     opts.Store,
		client:    opts.Client,
		asm:       stream.New(opts.Client, opts.Logger),
		agents:    cache.NewAgents(opts.AgentTTL),
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		notify:    opts.Notify,
		streaming: opts.Streaming,
		pending:   make(map[string]State),
	}
}

// SessionState reports the exchange state of one session.
func (s *Synchronizer) SessionState(sessionID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[sessionID]
}

// Health probes the backend before any session work so connectivity
// problems surface as a specific early notice rather than a failed send.
func (s *Synchronizer) Health(ctx context.Context) error {
	var resp backend.HealthResponse
	if err := s.client.GetJSON(ctx, "/health", &resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("backend reported unhealthy")
	}
	return nil
}

// Refresh replaces the store's session list from the authoritative thread
// listing, preserving cached messages of sessions already present.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	var resp backend.ThreadsResponse
	if err := s.client.GetJSON(ctx, "/api/threads/", &resp); err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	for _, th := range resp.Threads {
		s.store.Upsert(sessionFromThread(th))
	}
	s.logger.Info("refreshed sessions", "count", len(resp.Threads))
	return nil
}

// NewSession requests an available agent, creates a thread, and makes it
// the active session.
func (s *Synchronizer) NewSession(ctx context.Context) (store.Session, error) {
	agent, err := s.defaultAgent(ctx)
	if err != nil {
		return store.Session{}, err
	}

	var resp backend.ThreadResponse
	err = s.client.PostJSON(ctx, "/api/threads/", backend.CreateThreadRequest{
		AgentID: agent.ID,
		Title:   "New Chat",
	}, &resp)
	if err != nil {
		return store.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	sess := sessionFromThread(resp.Thread)
	s.store.Add(sess)
	s.store.SetActive(sess.ID)
	s.logger.Info("created session", "session_id", sess.ID, "agent_id", agent.ID)
	return sess, nil
}

// Send submits user content to the active session, creating a session first
// when none exists. The temporary user/assistant pair is inserted before the
// network call; on any failure the assistant entry is removed and the user
// entry retained as sent-but-unanswered.
func (s *Synchronizer) Send(ctx context.Context, content string) error {
	ctx, span := s.tracer.Start(ctx, "chat.exchange")
	defer span.End()

	sessionID := s.store.ActiveID()
	if sessionID == "" {
		sess, err := s.NewSession(ctx)
		if err != nil {
			s.notify("Could not start a conversation. Please try again.")
			return err
		}
		sessionID = sess.ID
	}

	if !s.begin(sessionID) {
		return ErrExchangeInFlight
	}
	defer s.end(sessionID)

	sess, ok := s.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	firstExchange := len(sess.Messages) == 0

	now := time.Now()
	userMsg := store.Message{
		ID:        store.NewTempID(),
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	asstMsg := store.Message{
		ID:        store.NewTempID(),
		Role:      store.RoleAssistant,
		CreatedAt: now,
		Streaming: true,
	}

	if firstExchange {
		s.store.Rename(sessionID, titleFrom(content))
	}
	s.store.AppendMessage(sessionID, userMsg)
	s.store.AppendMessage(sessionID, asstMsg)
	s.store.Touch(sessionID)

	var err error
	if s.streaming {
		err = s.sendStreaming(ctx, sessionID, content, asstMsg)
	} else {
		err = s.sendBlocking(ctx, sessionID, content, userMsg, asstMsg)
	}
	if err != nil {
		s.rollback(sessionID, asstMsg.ID)
		s.notify("The assistant is unavailable right now. Please try again.")
		return err
	}

	s.store.Touch(sessionID)
	if firstExchange {
		// Push the heuristic title so other clients see it. Best effort;
		// the local title stands either way.
		go s.pushTitle(sessionID)
	}
	return nil
}

// sendStreaming drives the assembler; every delta replaces the temporary
// assistant message's content in place.
func (s *Synchronizer) sendStreaming(ctx context.Context, sessionID, content string, asstMsg store.Message) error {
	s.setState(sessionID, StateStreaming)

	res, err := s.asm.Send(ctx, sessionID, content, func(_, total string) {
		asstMsg.Content = total
		s.store.ReplaceMessage(sessionID, asstMsg.ID, asstMsg)
	})
	if err != nil {
		return err
	}

	final := asstMsg
	final.Content = res.Content
	final.Streaming = false
	if res.MessageID != "" {
		final.ID = res.MessageID
	}
	s.store.ReplaceMessage(sessionID, asstMsg.ID, final)
	return nil
}

// sendBlocking uses the non-streaming endpoint and swaps both temporary
// messages for the persisted pair.
func (s *Synchronizer) sendBlocking(ctx context.Context, sessionID, content string, userMsg, asstMsg store.Message) error {
	var resp backend.MessagePairResponse
	err := s.client.PostJSON(ctx, "/api/threads/"+sessionID+"/messages", backend.PostMessageRequest{
		Content: content,
	}, &resp)
	if err != nil {
		return err
	}

	s.store.ReplaceMessage(sessionID, userMsg.ID, messageFromWire(resp.UserMessage))
	s.store.ReplaceMessage(sessionID, asstMsg.ID, messageFromWire(resp.AssistantMessage))
	return nil
}

// Rename applies the new title immediately and reverts to the exact prior
// title and updated-timestamp when the backend call fails.
func (s *Synchronizer) Rename(ctx context.Context, sessionID, title string) error {
	prevTitle, prevUpdated, ok := s.store.Rename(sessionID, title)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	var resp backend.ThreadResponse
	err := s.client.PatchJSON(ctx, "/api/threads/"+sessionID, backend.UpdateThreadRequest{Title: title}, &resp)
	if err != nil {
		s.store.RestoreTitle(sessionID, prevTitle, prevUpdated)
		s.notify("Could not rename the conversation.")
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return nil
}

// Delete removes a session locally and returns the new active session ID.
// Deletion implies no network side effects.
func (s *Synchronizer) Delete(sessionID string) string {
	return s.store.Remove(sessionID)
}

// Select makes a session active. Selection is synchronous and local; call
// LoadMessages afterwards to fill an empty cached message list.
func (s *Synchronizer) Select(sessionID string) error {
	if !s.store.SetActive(sessionID) {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return nil
}

// LoadMessages fetches the authoritative message list when the session has
// none cached, replacing the list wholesale.
func (s *Synchronizer) LoadMessages(ctx context.Context, sessionID string) error {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if len(sess.Messages) > 0 {
		return nil
	}

	var resp backend.MessagesResponse
	if err := s.client.GetJSON(ctx, "/api/threads/"+sessionID+"/messages", &resp); err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]store.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		msgs[i] = messageFromWire(m)
	}
	s.store.SetMessages(sessionID, msgs)
	return nil
}

// defaultAgent returns the backend's first configured agent, from cache when
// fresh.
func (s *Synchronizer) defaultAgent(ctx context.Context) (backend.Agent, error) {
	if agents, ok := s.agents.Get(); ok {
		return agents[0], nil
	}

	var resp backend.AgentsResponse
	if err := s.client.GetJSON(ctx, "/api/agents/", &resp); err != nil {
		return backend.Agent{}, fmt.Errorf("failed to list agents: %w", err)
	}
	if len(resp.Agents) == 0 {
		return backend.Agent{}, ErrNoAgents
	}
	s.agents.Put(resp.Agents)
	return resp.Agents[0], nil
}

// pushTitle mirrors the locally derived title to the backend.
func (s *Synchronizer) pushTitle(sessionID string) {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		return
	}
	var resp backend.ThreadResponse
	err := s.client.PatchJSON(context.Background(), "/api/threads/"+sessionID, backend.UpdateThreadRequest{Title: sess.Title}, &resp)
	if err != nil {
		s.logger.Warn("failed to push session title", "session_id", sessionID, "error", err)
	}
}

func (s *Synchronizer) begin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[sessionID] != StateIdle {
		return false
	}
	s.pending[sessionID] = StateSending
	return true
}

func (s *Synchronizer) setState(sessionID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = st
}

func (s *Synchronizer) end(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
}

// rollback removes the temporary assistant message; the temporary user
// message stays, reflecting "sent but unanswered".
func (s *Synchronizer) rollback(sessionID, assistantID string) {
	s.setState(sessionID, StateRollback)
	s.store.RemoveMessage(sessionID, assistantID)
	s.logger.Warn("exchange rolled back", "session_id", sessionID)
}

// titleFrom derives a session title from the first user message.
func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit])
}

func sessionFromThread(th backend.Thread) store.Session {
	return store.Session{
		ID:        th.ID,
		Title:     th.Title,
		AgentID:   th.AgentID,
		CreatedAt: parseTime(th.CreatedAt),
		UpdatedAt: parseTime(th.UpdatedAt),
	}
}

func messageFromWire(m backend.Message) store.Message {
	return store.Message{
		ID:        m.ID,
		Role:      store.Role(m.Role),
		Content:   m.Content,
		CreatedAt: parseTime(m.CreatedAt),
	}
}

// parseTime accepts the backend's ISO timestamps, with or without an
// explicit offset.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
