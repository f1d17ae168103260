package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketclaude/pocketclaude/wire"
)

// testRelay spins up a real Relay Server on a loopback listener and
// returns its ws:// /connect URL alongside its Hub. Teardown of both is
// registered with t.Cleanup.
func testRelay(t *testing.T, token string) (wsURL string, hub *Hub) {
	t.Helper()
	hub = NewHub()
	t.Cleanup(hub.Close)

	srv := NewServer(Config{Token: token}, hub)
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/connect", hub
}

func dialAndAuth(t *testing.T, wsURL, token string, role wire.Role) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: token, Role: role})
	if err != nil {
		t.Fatalf("New auth envelope: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		t.Fatalf("read auth reply: %v", err)
	}
	var status wire.StatusPayload
	if err := reply.Decode(&status); err != nil {
		t.Fatalf("decode auth reply: %v", err)
	}
	if status.Status != wire.StatusConnected {
		t.Fatalf("auth reply status = %q, want %q", status.Status, wire.StatusConnected)
	}
	return conn
}

func TestIntegration_ClientCommandForwardsToAgent(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	agentConn := dialAndAuth(t, wsURL, "secret", wire.RoleAgent)
	clientConn := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmdEnv, err := wire.New(wire.TypeCommand, "", wire.CommandPayload{Command: wire.CommandListProjects})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, clientConn, cmdEnv); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got, err := wire.ReadEnvelope(ctx, agentConn)
	if err != nil {
		t.Fatalf("agent read: %v", err)
	}
	var cmd wire.CommandPayload
	if err := got.Decode(&cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Command != wire.CommandListProjects {
		t.Errorf("forwarded command = %q, want %q", cmd.Command, wire.CommandListProjects)
	}
}

func TestIntegration_AgentOutputBroadcastsToAllClients(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	agentConn := dialAndAuth(t, wsURL, "secret", wire.RoleAgent)
	client1 := dialAndAuth(t, wsURL, "secret", wire.RoleClient)
	client2 := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outEnv, err := wire.New(wire.TypeOutput, "sess-1", wire.OutputPayload{SessionID: "sess-1", Data: "hello"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, agentConn, outEnv); err != nil {
		t.Fatalf("agent write: %v", err)
	}

	for _, c := range []*websocket.Conn{client1, client2} {
		env, err := wire.ReadEnvelope(ctx, c)
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		var out wire.OutputPayload
		if err := env.Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Data != "hello" {
			t.Errorf("broadcast data = %q, want %q", out.Data, "hello")
		}
	}
}

func TestIntegration_SecondAgentRejectedWithAgentExists(t *testing.T) {
	wsURL, hub := testRelay(t, "secret")

	_ = dialAndAuth(t, wsURL, "secret", wire.RoleAgent)

	if !hub.HasAgent() {
		t.Fatal("HasAgent() = false after first agent authenticated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: "secret", Role: wire.RoleAgent})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != wire.TypeError {
		t.Fatalf("reply type = %q, want %q", reply.Type, wire.TypeError)
	}
	var errPayload wire.ErrorPayload
	if err := reply.Decode(&errPayload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errPayload.Code != wire.ErrAgentExists {
		t.Errorf("error code = %q, want %q", errPayload.Code, wire.ErrAgentExists)
	}
}

func TestIntegration_WrongTokenClosesWithAuthFailed(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: "wrong", Role: wire.RoleClient})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var errPayload wire.ErrorPayload
	if err := reply.Decode(&errPayload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errPayload.Code != wire.ErrAuthFailed {
		t.Errorf("error code = %q, want %q", errPayload.Code, wire.ErrAuthFailed)
	}

	// Connection must then be closed by the server with the documented
	// close code.
	_, _, err = conn.Read(ctx)
	code := websocket.CloseStatus(err)
	if code != websocket.StatusCode(wire.CloseAuthFailed) {
		t.Errorf("close code = %v, want %v (err: %v)", code, wire.CloseAuthFailed, err)
	}
}

func TestIntegration_ClientCommandWithoutAgentReturnsNoAgentError(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	clientConn := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmdEnv, err := wire.New(wire.TypeCommand, "", wire.CommandPayload{Command: wire.CommandListProjects})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, clientConn, cmdEnv); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, clientConn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var errPayload wire.ErrorPayload
	if err := reply.Decode(&errPayload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errPayload.Code != wire.ErrNoAgent {
		t.Errorf("error code = %q, want %q", errPayload.Code, wire.ErrNoAgent)
	}
}

func TestIntegration_AuthReplyCarriesRoleAndAgentConnectedFlag(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	_ = dialAndAuth(t, wsURL, "secret", wire.RoleAgent)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	env, err := wire.New(wire.TypeAuth, "", wire.AuthPayload{Token: "secret", Role: wire.RoleClient})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, conn, env); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var status wire.StatusPayload
	if err := reply.Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}

	dataBytes, err := json.Marshal(status.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var data wire.ConnectedData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Role != wire.RoleClient {
		t.Errorf("data.role = %q, want %q", data.Role, wire.RoleClient)
	}
	if !data.AgentConnected {
		t.Error("data.agentConnected = false, want true (an agent is already bound)")
	}
}

func TestIntegration_ClientSeesAgentConnectedBroadcastOnBind(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	clientConn := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = dialAndAuth(t, wsURL, "secret", wire.RoleAgent)

	env, err := wire.ReadEnvelope(ctx, clientConn)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var status wire.StatusPayload
	if err := env.Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != wire.StatusConnected {
		t.Fatalf("status = %q, want %q", status.Status, wire.StatusConnected)
	}

	dataBytes, err := json.Marshal(status.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var data wire.AgentStatusData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Reason != wire.ReasonAgentConnected {
		t.Errorf("reason = %q, want %q", data.Reason, wire.ReasonAgentConnected)
	}
}

func TestIntegration_ClientSeesAgentDisconnectedBroadcastOnRelease(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	agentConn := dialAndAuth(t, wsURL, "secret", wire.RoleAgent)
	clientConn := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := agentConn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close agent: %v", err)
	}

	env, err := wire.ReadEnvelope(ctx, clientConn)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var status wire.StatusPayload
	if err := env.Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != wire.StatusDisconnected {
		t.Fatalf("status = %q, want %q", status.Status, wire.StatusDisconnected)
	}

	dataBytes, err := json.Marshal(status.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var data wire.AgentStatusData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Reason != wire.ReasonAgentDisconnected {
		t.Errorf("reason = %q, want %q", data.Reason, wire.ReasonAgentDisconnected)
	}
}

func TestIntegration_BadWireFrameGetsErrorReplyAndKeepsConnectionOpen(t *testing.T) {
	wsURL, _ := testRelay(t, "secret")

	_ = dialAndAuth(t, wsURL, "secret", wire.RoleAgent)
	clientConn := dialAndAuth(t, wsURL, "secret", wire.RoleClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := clientConn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}

	reply, err := wire.ReadEnvelope(ctx, clientConn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var errPayload wire.ErrorPayload
	if err := reply.Decode(&errPayload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errPayload.Code != wire.ErrInvalidJSON {
		t.Errorf("error code = %q, want %q", errPayload.Code, wire.ErrInvalidJSON)
	}

	// Connection must still be usable afterward.
	cmdEnv, err := wire.New(wire.TypeCommand, "", wire.CommandPayload{Command: wire.CommandListProjects})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wire.WriteEnvelope(ctx, clientConn, cmdEnv); err != nil {
		t.Fatalf("write command after bad frame: %v", err)
	}
}

func TestHealth_ReflectsHubState(t *testing.T) {
	wsURL, hub := testRelay(t, "secret")
	_ = wsURL

	stats := hub.SnapshotStats()
	if stats.AgentConnected || stats.ClientCount != 0 {
		t.Fatalf("initial stats = %+v, want zero value", stats)
	}

	_ = dialAndAuth(t, wsURL, "secret", wire.RoleAgent)

	stats = hub.SnapshotStats()
	if !stats.AgentConnected {
		t.Error("AgentConnected = false after an agent authenticated")
	}
}
