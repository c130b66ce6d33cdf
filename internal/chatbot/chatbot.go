package chatbot

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"CompassChat/internal/chat"
	"CompassChat/internal/config"
	"CompassChat/internal/endpoint"
	"CompassChat/internal/store"
	"CompassChat/internal/telemetry"
	"CompassChat/internal/transport"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// App is the terminal frontend: it drives the synchronizer and renders
// whatever the session store holds.
type App struct {
	cfg     config.Config
	db      *sql.DB
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	cleanup func()

	store  *store.Store
	syncer *chat.Synchronizer
	out    io.Writer

	mu      sync.Mutex
	printed map[string]int // rendered byte count of the streaming tail, per session
}

// New creates the application and wires every layer together.
func New(cfg config.Config) (*App, error) {
	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := telemetry.InitDB(cfg.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transcript archive: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	app := &App{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		tracer:  tracer,
		meter:   meter,
		cleanup: cleanup,
		store:   store.New(),
		out:     os.Stdout,
		printed: make(map[string]int),
	}

	resolver := endpoint.Resolver{Base: cfg.APIBase, Origin: cfg.Origin}
	client := transport.New(resolver, func() string { return app.cfg.Token }, logger, meter)

	app.syncer = chat.New(chat.Options{
		Store:     app.store,
		Client:    client,
		Logger:    logger,
		Tracer:    tracer,
		Notify:    func(notice string) { fmt.Println(notice) },
		Streaming: cfg.Streaming,
	})

	app.store.Subscribe(app.onStoreChange)

	return app, nil
}

// onStoreChange renders incremental assistant output for the active
// session. The store has already applied the mutation when this runs, so
// printing the unseen suffix of the streaming tail reproduces the deltas in
// arrival order.
func (a *App) onStoreChange(sessionID string) {
	if sessionID != a.store.ActiveID() {
		return
	}
	sess, ok := a.store.Get(sessionID)
	if !ok || len(sess.Messages) == 0 {
		return
	}
	tail := sess.Messages[len(sess.Messages)-1]
	if tail.Role != store.RoleAssistant || !tail.Streaming {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.printed[sessionID]; len(tail.Content) > n {
		fmt.Fprint(a.out, tail.Content[n:])
		a.printed[sessionID] = len(tail.Content)
	}
}

// resetPrinted clears the rendered-length counter after an exchange ends.
func (a *App) resetPrinted(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.printed, sessionID)
}

// archiveExchange appends the completed exchange to the local transcript
// archive. Write-only: the archive is never read back into session state.
func (a *App) archiveExchange(sessionID, prompt, reply string) {
	sess, ok := a.store.Get(sessionID)
	if !ok {
		return
	}

	tx, err := a.db.Begin()
	if err != nil {
		a.logger.Warn("failed to begin archive transaction", "error", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO sessions (id, title, created_at) VALUES (?, ?, ?)",
		sess.ID, sess.Title, sess.CreatedAt,
	)
	if err != nil {
		a.logger.Warn("failed to archive session", "error", err)
		return
	}

	_, err = tx.Exec(
		"INSERT INTO exchanges (session_id, prompt, reply, created_at) VALUES (?, ?, ?, ?)",
		sess.ID, prompt, reply, time.Now(),
	)
	if err != nil {
		a.logger.Warn("failed to archive exchange", "error", err)
		return
	}

	if err := tx.Commit(); err != nil {
		a.logger.Warn("failed to commit archive transaction", "error", err)
		return
	}

	a.logger.Info("archived exchange", "session_id", sess.ID)
}

// send submits user content and renders the reply.
func (a *App) send(ctx context.Context, content string) {
	err := a.syncer.Send(ctx, content)

	// The counter must go regardless of outcome: a failed exchange leaves
	// no streaming tail behind, and a stale count would swallow the start
	// of the next reply.
	sessionID := a.store.ActiveID()
	if sessionID != "" {
		a.resetPrinted(sessionID)
	}

	if err != nil {
		fmt.Fprintln(a.out)
		a.logger.Error("failed to send message", "error", err)
		return
	}

	sess, ok := a.store.Get(sessionID)
	if !ok || len(sess.Messages) == 0 {
		return
	}
	reply := sess.Messages[len(sess.Messages)-1]
	if a.cfg.Streaming {
		fmt.Fprintln(a.out)
	} else {
		fmt.Fprintf(a.out, "%s\n", reply.Content)
	}
	fmt.Fprintln(a.out)

	go a.archiveExchange(sessionID, content, reply.Content)
}

// handleCommand handles special commands
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		sess, err := a.syncer.NewSession(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Println("Started new session:", sess.ID)
		return false, nil

	case "/sessions":
		sessions := a.store.Sessions()
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Just type a message to start one.")
			return false, nil
		}
		fmt.Println("\nSessions (most recent first):")
		for i, sess := range sessions {
			current := ""
			if sess.ID == a.store.ActiveID() {
				current = " (current)"
			}
			fmt.Printf("%d. %s%s\n", i+1, sess.Title, current)
		}
		fmt.Println()
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <number>")
		}
		idx, err := strconv.Atoi(parts[1])
		sessions := a.store.Sessions()
		if err != nil || idx < 1 || idx > len(sessions) {
			return false, fmt.Errorf("no such session: %s", parts[1])
		}
		sess := sessions[idx-1]
		if err := a.syncer.Select(sess.ID); err != nil {
			return false, err
		}
		if err := a.syncer.LoadMessages(ctx, sess.ID); err != nil {
			return false, fmt.Errorf("failed to load messages: %w", err)
		}
		a.printTranscript(sess.ID)
		return false, nil

	case "/rename":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /rename <new title>")
		}
		sessionID := a.store.ActiveID()
		if sessionID == "" {
			return false, fmt.Errorf("no active session")
		}
		title := strings.TrimSpace(strings.TrimPrefix(cmd, "/rename"))
		if err := a.syncer.Rename(ctx, sessionID, title); err != nil {
			return false, err
		}
		fmt.Println("Renamed session to:", title)
		return false, nil

	case "/delete":
		sessionID := a.store.ActiveID()
		if sessionID == "" {
			return false, fmt.Errorf("no active session")
		}
		fallback := a.syncer.Delete(sessionID)
		if fallback == "" {
			fmt.Println("Session deleted. No sessions remain.")
		} else {
			sess, _ := a.store.Get(fallback)
			fmt.Println("Session deleted. Switched to:", sess.Title)
		}
		return false, nil

	case "/health":
		if err := a.syncer.Health(ctx); err != nil {
			return false, err
		}
		fmt.Println("Backend is reachable.")
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit        - Exit")
		fmt.Println("  /sessions           - List sessions")
		fmt.Println("  /new                - Start a new session")
		fmt.Println("  /select <number>    - Switch to a session")
		fmt.Println("  /rename <title>     - Rename the current session")
		fmt.Println("  /delete             - Remove the current session from the list")
		fmt.Println("  /health             - Probe the backend")
		fmt.Println("  /help               - Show this help message")
		return false, nil

	default:
		return false, nil
	}
}

// printTranscript prints a session's cached messages.
func (a *App) printTranscript(sessionID string) {
	sess, ok := a.store.Get(sessionID)
	if !ok {
		return
	}
	fmt.Printf("\n=== %s ===\n", sess.Title)
	for _, msg := range sess.Messages {
		switch msg.Role {
		case store.RoleUser:
			fmt.Printf("You: %s\n", msg.Content)
		case store.RoleAssistant:
			fmt.Printf("Compass: %s\n", msg.Content)
		}
	}
	fmt.Println()
}

// Run starts the interactive loop.
func (a *App) Run() error {
	defer a.db.Close()
	defer a.cleanup()

	ctx := context.Background()

	fmt.Println("=== CompassChat ===")
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	// Probe early so connectivity problems get a specific notice instead
	// of a failed first send.
	if err := a.syncer.Health(ctx); err != nil {
		fmt.Println("Warning: the Future-Compass backend is not reachable yet. Messages will fail until it is.")
		a.logger.Warn("health probe failed", "error", err)
	} else if err := a.syncer.Refresh(ctx); err != nil {
		a.logger.Warn("failed to refresh sessions", "error", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				a.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if a.cfg.Streaming {
			fmt.Print("Compass: ")
		}
		a.send(ctx, input)
	}

	fmt.Println("Goodbye!")
	return nil
}
