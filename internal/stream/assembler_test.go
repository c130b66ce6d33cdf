package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"CompassChat/internal/endpoint"
	"CompassChat/internal/transport"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	return New(nil, testLogger())
}

func TestRunConcatenatesDeltasInOrder(t *testing.T) {
	body := "data: {\"delta\":\"A Bachelor\"}\n" +
		"data: {\"delta\":\" of Science.\"}\n"

	var chunks []string
	res, err := newAssembler(t).Run(strings.NewReader(body), func(delta, total string) {
		chunks = append(chunks, delta)
	})
	require.NoError(t, err)
	require.Equal(t, "A Bachelor of Science.", res.Content)
	require.Equal(t, []string{"A Bachelor", " of Science."}, chunks)
}

func TestRunIsChunkingIndependent(t *testing.T) {
	body := "data: {\"delta\":\"one \"}\n" +
		"data: {\"delta\":\"two \"}\n" +
		"data: {\"delta\":\"three\"}\n"

	// One byte per read: line assembly must not depend on chunk boundaries.
	res, err := newAssembler(t).Run(iotest.OneByteReader(strings.NewReader(body)), nil)
	require.NoError(t, err)
	require.Equal(t, "one two three", res.Content)
}

func TestRunIgnoresNoise(t *testing.T) {
	body := ": heartbeat\n" +
		"data: {\"delta\":\"Hello\"}\n" +
		"data: not json at all\n" +
		"event: ping\n" +
		"data:\n" +
		"\n" +
		"data: {\"delta\":\" world\"}\n"

	res, err := newAssembler(t).Run(strings.NewReader(body), nil)
	require.NoError(t, err)
	require.Equal(t, "Hello world", res.Content)
}

func TestRunErrorEnvelopeAborts(t *testing.T) {
	body := "data: {\"delta\":\"partial\"}\n" +
		"data: {\"error\":\"assistant_unavailable\"}\n" +
		"data: {\"delta\":\"never seen\"}\n"

	var total string
	_, err := newAssembler(t).Run(strings.NewReader(body), func(_, t string) { total = t })

	var streamErr *Error
	require.ErrorAs(t, err, &streamErr)
	require.Equal(t, "assistant_unavailable", streamErr.Reason)
	// Deltas before the error were delivered; discarding them is the
	// caller's rollback, not the assembler's.
	require.Equal(t, "partial", total)
}

func TestRunCapturesDoneMessageID(t *testing.T) {
	body := "data: {\"delta\":\"hi\"}\n" +
		"data: {\"done\": true, \"messageId\": \"m-77\"}\n"

	res, err := newAssembler(t).Run(strings.NewReader(body), nil)
	require.NoError(t, err)
	require.Equal(t, "hi", res.Content)
	require.Equal(t, "m-77", res.MessageID)
}

func TestRunEmptyStream(t *testing.T) {
	res, err := newAssembler(t).Run(strings.NewReader(""), nil)
	require.NoError(t, err)
	require.Empty(t, res.Content)
	require.Empty(t, res.MessageID)
}

func TestSendNonOKStatusBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Thread not found"}`))
	}))
	defer srv.Close()

	client := transport.New(endpoint.Resolver{Base: srv.URL}, nil, testLogger(), nil)
	asm := New(client, testLogger())

	_, err := asm.Send(context.Background(), "missing", "hello", nil)
	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSendConsumesEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"delta\":\"streamed \"}\n\n")
		io.WriteString(w, "data: {\"delta\":\"reply\"}\n\n")
		io.WriteString(w, "data: {\"done\": true, \"messageId\": \"m-1\"}\n\n")
	}))
	defer srv.Close()

	client := transport.New(endpoint.Resolver{Base: srv.URL}, nil, testLogger(), nil)
	asm := New(client, testLogger())

	res, err := asm.Send(context.Background(), "t1", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "streamed reply", res.Content)
	require.Equal(t, "m-1", res.MessageID)
}
