package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"
)

// pipeServer fakes the server side of a transport over in-memory pipes.
type pipeServer struct {
	t *testing.T

	// Server reads client requests here, writes responses there.
	in  *bufio.Reader
	out io.Writer

	transport *Transport
}

func newPipeServer(t *testing.T) *pipeServer {
	t.Helper()

	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()

	tr := NewTransport(clientReads, clientWrites, nil)
	tr.Start(context.Background())
	t.Cleanup(func() { tr.Close() })

	return &pipeServer{
		t:         t,
		in:        bufio.NewReader(serverReads),
		out:       serverWrites,
		transport: tr,
	}
}

// readRequest reads one framed message from the client.
func (ps *pipeServer) readRequest() map[string]any {
	ps.t.Helper()

	var contentLength int
	for {
		line, err := ps.in.ReadString('\n')
		if err != nil {
			ps.t.Fatalf("read header: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			v := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			contentLength, err = strconv.Atoi(v)
			if err != nil {
				ps.t.Fatalf("bad content length %q", v)
			}
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(ps.in, body); err != nil {
		ps.t.Fatalf("read body: %v", err)
	}

	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		ps.t.Fatalf("unmarshal request: %v", err)
	}
	return msg
}

// send writes a framed raw JSON message to the client.
func (ps *pipeServer) send(body string) {
	ps.t.Helper()
	msg := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	if _, err := io.WriteString(ps.out, msg); err != nil {
		ps.t.Fatalf("write response: %v", err)
	}
}

func TestTransportCall(t *testing.T) {
	ps := newPipeServer(t)

	go func() {
		req := ps.readRequest()
		id := int64(req["id"].(float64))
		ps.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"value":42}}`, id))
	}()

	var result struct {
		Value int `json:"value"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ps.transport.Call(ctx, "test/method", map[string]string{"k": "v"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("result.Value = %d, want 42", result.Value)
	}
}

func TestTransportCallError(t *testing.T) {
	ps := newPipeServer(t)

	go func() {
		req := ps.readRequest()
		id := int64(req["id"].(float64))
		ps.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, id))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := ps.transport.Call(ctx, "missing/method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call error = %v, want *RPCError", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestTransportCallAsync(t *testing.T) {
	ps := newPipeServer(t)

	go func() {
		req := ps.readRequest()
		id := int64(req["id"].(float64))
		ps.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":5}},"target":"https://x"}]}`, id))
	}()

	done := make(chan struct{})
	var gotResult json.RawMessage
	var gotErr error

	ps.transport.CallAsync(context.Background(), "textDocument/documentLink", nil, func(result json.RawMessage, err error) {
		gotResult, gotErr = result, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("completion never ran")
	}

	if gotErr != nil {
		t.Fatalf("completion error: %v", gotErr)
	}
	links, err := ParseDocumentLinkResult(gotResult)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(links) != 1 || links[0].Target != "https://x" {
		t.Errorf("links = %+v", links)
	}
}

func TestTransportCallAsyncReturnsWhileServerNotReading(t *testing.T) {
	ps := newPipeServer(t)

	// Nobody is draining the server side of the pipe yet, so the
	// framed write cannot complete. CallAsync must still return.
	done := make(chan error, 1)
	returned := make(chan struct{})
	go func() {
		ps.transport.CallAsync(context.Background(), "test/method", nil, func(_ json.RawMessage, err error) {
			done <- err
		})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("CallAsync blocked its caller on the write")
	}

	// Drain and respond; the completion must still be delivered.
	req := ps.readRequest()
	id := int64(req["id"].(float64))
	ps.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":null}`, id))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("completion error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion never ran")
	}
}

func TestTransportCallAsyncContextCancel(t *testing.T) {
	ps := newPipeServer(t)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	ps.transport.CallAsync(ctx, "test/slow", nil, func(result json.RawMessage, err error) {
		done <- err
	})

	// Server never responds; cancel the context instead.
	ps.readRequest()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("completion error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion never ran after cancel")
	}
}

func TestTransportCallAsyncAfterClose(t *testing.T) {
	ps := newPipeServer(t)
	ps.transport.Close()

	done := make(chan error, 1)
	ps.transport.CallAsync(context.Background(), "test/method", nil, func(result json.RawMessage, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("completion error = %v, want ErrShutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion never ran after close")
	}
}

func TestTransportNotify(t *testing.T) {
	ps := newPipeServer(t)

	got := make(chan map[string]any, 1)
	go func() {
		got <- ps.readRequest()
	}()

	if err := ps.transport.Notify(context.Background(), "textDocument/didOpen", map[string]string{"uri": "file:///a"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case msg := <-got:
		if msg["method"] != "textDocument/didOpen" {
			t.Errorf("method = %v", msg["method"])
		}
		if _, hasID := msg["id"]; hasID {
			t.Error("notification carried a request id")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestTransportNotificationDispatch(t *testing.T) {
	ps := newPipeServer(t)

	got := make(chan json.RawMessage, 1)
	ps.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		got <- params
	})

	ps.send(`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`)

	select {
	case params := <-got:
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if p.Message != "hi" {
			t.Errorf("message = %q", p.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification handler never ran")
	}
}

func TestTransportCloseUnblocksCall(t *testing.T) {
	ps := newPipeServer(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ps.transport.Call(context.Background(), "test/never", nil, nil)
	}()

	// Make sure the request is out before closing.
	ps.readRequest()
	ps.transport.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrShutdown) {
			t.Errorf("Call error = %v, want ErrShutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call never unblocked after close")
	}
}
