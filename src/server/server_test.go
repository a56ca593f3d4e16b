package server

import (
	"bytes"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/envelope"
	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/frame"
)

func frameBytes(t *testing.T, env *envelope.Envelope) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeEnvelope(t, frame.NewWriter(&buf), env)
	return buf.Bytes()
}

func decodeFrame(t *testing.T, data []byte) *envelope.Envelope {
	t.Helper()
	return readEnvelope(t, frame.NewReader(bytes.NewReader(data)))
}

func TestServeTCP(t *testing.T) {
	srv := New(testRepo(t), nil, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen err: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	w := frame.NewWriter(conn)
	r := frame.NewReader(conn)
	writeEnvelope(t, w, &envelope.Envelope{ID: "1", Payload: &envelope.InitializeRequest{ClientName: "test", ClientVersion: "0"}})
	resp := readEnvelope(t, r)
	init, ok := resp.Payload.(*envelope.InitializeResponse)
	if !ok {
		t.Fatalf("payload = %T", resp.Payload)
	}
	if init.ServerName != ServerName {
		t.Errorf("server name = %q", init.ServerName)
	}

	writeEnvelope(t, w, &envelope.Envelope{ID: "2", Payload: &envelope.ListToolsRequest{}})
	resp = readEnvelope(t, r)
	list, ok := resp.Payload.(*envelope.ListToolsResponse)
	if !ok {
		t.Fatalf("payload = %T", resp.Payload)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", list.Tools)
	}

	conn.Close()
	ln.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("serve did not return after the listener closed")
	}
}

func TestWebSocketSession(t *testing.T) {
	srv := New(testRepo(t), nil, nil, nil)
	ts := httptest.NewServer(srv.WebSocketHandler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	req := frameBytes(t, &envelope.Envelope{ID: "1", Payload: &envelope.InitializeRequest{ClientName: "ws", ClientVersion: "0"}})
	if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
		t.Fatalf("write err: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read err: %v", err)
	}
	resp := decodeFrame(t, msg)
	init, ok := resp.Payload.(*envelope.InitializeResponse)
	if !ok {
		t.Fatalf("payload = %T", resp.Payload)
	}
	if init.ServerName != ServerName {
		t.Errorf("server name = %q", init.ServerName)
	}

	// An empty message must not desync the stream.
	if err := conn.WriteMessage(websocket.BinaryMessage, nil); err != nil {
		t.Fatalf("write err: %v", err)
	}

	req = frameBytes(t, &envelope.Envelope{ID: "2", Payload: &envelope.ListToolsRequest{}})
	if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
		t.Fatalf("write err: %v", err)
	}
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read err: %v", err)
	}
	resp = decodeFrame(t, msg)
	list, ok := resp.Payload.(*envelope.ListToolsResponse)
	if !ok {
		t.Fatalf("payload = %T", resp.Payload)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", list.Tools)
	}

	// A frame split across messages must be rejoined.
	req = frameBytes(t, &envelope.Envelope{ID: "3", Payload: &envelope.ListToolsRequest{}})
	if err := conn.WriteMessage(websocket.BinaryMessage, req[:3]); err != nil {
		t.Fatalf("write err: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, req[3:]); err != nil {
		t.Fatalf("write err: %v", err)
	}
	if _, msg, err = conn.ReadMessage(); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if resp = decodeFrame(t, msg); resp.ID != "3" {
		t.Errorf("response id = %q", resp.ID)
	}

	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
		t.Fatalf("close err: %v", err)
	}
}
