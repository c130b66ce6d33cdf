// Package stream assembles an assistant reply from a server-sent event
// stream of incremental text deltas.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"CompassChat/internal/backend"
	"CompassChat/internal/transport"
)

const dataPrefix = "data:"

// Error is an explicit error envelope received mid-stream. Accumulated
// deltas are not part of it; the caller's failure path discards them.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream aborted by server: %s", e.Reason)
}

// Result is a fully assembled assistant reply.
type Result struct {
	Content   string
	MessageID string // server-assigned message ID from the terminal done envelope, if any
}

// Assembler opens streaming message requests and folds their deltas into a
// final reply.
type Assembler struct {
	client *transport.Client
	logger *slog.Logger
}

// New creates an assembler on top of the authenticated transport.
func New(client *transport.Client, logger *slog.Logger) *Assembler {
	return &Assembler{client: client, logger: logger}
}

// Send posts the user content to a session's message endpoint and consumes
// the event-stream reply. onDelta is invoked synchronously for every delta,
// with the chunk and the accumulated text so far, before the next read is
// issued — deltas are observed strictly in arrival order.
func (a *Assembler) Send(ctx context.Context, sessionID, content string, onDelta func(delta, total string)) (Result, error) {
	resp, err := a.client.Stream(ctx, "/api/threads/"+sessionID+"/messages", backend.PostMessageRequest{
		Content: content,
		Stream:  true,
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, transport.DecodeError(resp)
	}

	return a.Run(resp.Body, onDelta)
}

// Run consumes an event stream from r. Only lines carrying the data marker
// with a well-formed JSON envelope drive state; anything else (comments,
// heartbeats, malformed payloads) is ignored. The read loop is strictly
// sequential: one outstanding read at a time, so delta application order
// equals arrival order regardless of how the bytes are chunked.
func (a *Assembler) Run(r io.Reader, onDelta func(delta, total string)) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var acc strings.Builder
	var res Result
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}

		var evt backend.StreamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			// Keepalive noise; only well-formed envelopes drive state.
			continue
		}

		if evt.Error != "" {
			a.logger.Warn("stream aborted by server", "reason", evt.Error)
			return Result{}, &Error{Reason: evt.Error}
		}
		if evt.Delta != "" {
			acc.WriteString(evt.Delta)
			if onDelta != nil {
				onDelta(evt.Delta, acc.String())
			}
		}
		if evt.Done {
			res.MessageID = evt.MessageID
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read stream: %w", err)
	}

	res.Content = acc.String()
	return res, nil
}
