package uplink

import (
	"encoding/base64"
	"testing"

	"github.com/pocketclaude/pocketclaude/history"
	"github.com/pocketclaude/pocketclaude/project"
	"github.com/pocketclaude/pocketclaude/session"
	"github.com/pocketclaude/pocketclaude/wire"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	catalog, err := project.Load(t.TempDir() + "/missing-projects.json")
	if err != nil {
		t.Fatalf("project.Load: %v", err)
	}
	store := history.NewStore(t.TempDir())
	mgr := session.NewManager(session.Config{
		Catalog:   catalog,
		History:   store,
		QuickHome: t.TempDir(),
	})
	t.Cleanup(mgr.Shutdown)
	return NewDispatcher(mgr, catalog, store)
}

func commandEnvelope(t *testing.T, cmd wire.CommandPayload) wire.Envelope {
	t.Helper()
	env, err := wire.New(wire.TypeCommand, cmd.SessionID, cmd)
	if err != nil {
		t.Fatalf("wire.New: %v", err)
	}
	return env
}

func decodeError(t *testing.T, env wire.Envelope) wire.ErrorPayload {
	t.Helper()
	if env.Type != wire.TypeError {
		t.Fatalf("envelope type = %q, want %q", env.Type, wire.TypeError)
	}
	var payload wire.ErrorPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return payload
}

func decodeStatus(t *testing.T, env wire.Envelope) wire.StatusPayload {
	t.Helper()
	if env.Type != wire.TypeStatus {
		t.Fatalf("envelope type = %q, want %q", env.Type, wire.TypeStatus)
	}
	var payload wire.StatusPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	return payload
}

func TestDispatch_UnknownCommandReturnsError(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: "bogus"}))
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if got := decodeError(t, out[0]); got.Code != wire.ErrUnknownCommand {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrUnknownCommand)
	}
}

func TestDispatch_ListProjects_ReturnsCatalog(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandListProjects}))
	status := decodeStatus(t, out[0])
	if status.Status != wire.StatusProjectsList {
		t.Errorf("status = %q, want %q", status.Status, wire.StatusProjectsList)
	}
}

func TestDispatch_ListSessions_EmptyWhenNoneStarted(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandListSessions}))
	status := decodeStatus(t, out[0])
	if status.Status != wire.StatusSessionsList {
		t.Errorf("status = %q, want %q", status.Status, wire.StatusSessionsList)
	}
	if list, ok := status.Data.([]any); !ok || len(list) != 0 {
		t.Errorf("data = %v, want an empty list", status.Data)
	}
}

func TestDispatch_SendInput_MissingSessionID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandSendInput, Input: "ls"}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingSessionID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingSessionID)
	}
}

func TestDispatch_SendInput_MissingInput(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandSendInput, SessionID: "sess-1"}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingInput {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingInput)
	}
}

func TestDispatch_SendInput_UnknownSession(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandSendInput, SessionID: "sess-1", Input: "ls"}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrSessionNotFound)
	}
}

func TestDispatch_CloseSession_MissingSessionID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandCloseSession}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingSessionID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingSessionID)
	}
}

func TestDispatch_CloseSession_UnknownSession(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandCloseSession, SessionID: "sess-1"}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrSessionNotFound)
	}
}

func TestDispatch_Keepalive_MissingSessionID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandKeepalive}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingSessionID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingSessionID)
	}
}

func TestDispatch_Keepalive_UnknownSessionReturnsError(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandKeepalive, SessionID: "sess-1"}))
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if got := decodeError(t, out[0]); got.Code != wire.ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrSessionNotFound)
	}
}

func TestDispatch_GetSessionHistory_MissingProjectID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandGetSessionHistory}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingProjectID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingProjectID)
	}
}

func TestDispatch_GetSessionHistory_EmptyForUnknownProject(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandGetSessionHistory, ProjectID: "proj-1"}))
	status := decodeStatus(t, out[0])
	if status.Status != wire.StatusSessionHistory {
		t.Errorf("status = %q, want %q", status.Status, wire.StatusSessionHistory)
	}
	if list, ok := status.Data.([]any); status.Data != nil && (!ok || len(list) != 0) {
		t.Errorf("data = %v, want no history entries", status.Data)
	}
}

func TestDispatch_GetLastOutput_MissingProjectID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{Command: wire.CommandGetLastOutput}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingProjectID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingProjectID)
	}
}

func TestDispatch_UploadFile_MissingSessionID(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{
		Command:     wire.CommandUploadFile,
		FileName:    "a.txt",
		FileContent: base64.StdEncoding.EncodeToString([]byte("data")),
	}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingSessionID {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingSessionID)
	}
}

func TestDispatch_UploadFile_MissingFileData(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{
		Command:   wire.CommandUploadFile,
		SessionID: "sess-1",
	}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrMissingFileData {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrMissingFileData)
	}
}

func TestDispatch_UploadFile_UnknownSession(t *testing.T) {
	d := testDispatcher(t)
	out := d.Dispatch(commandEnvelope(t, wire.CommandPayload{
		Command:     wire.CommandUploadFile,
		SessionID:   "sess-1",
		FileName:    "a.txt",
		FileContent: base64.StdEncoding.EncodeToString([]byte("data")),
	}))
	if got := decodeError(t, out[0]); got.Code != wire.ErrSessionNotFound {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrSessionNotFound)
	}
}

func TestDispatch_InvalidJSON_ReturnsError(t *testing.T) {
	d := testDispatcher(t)
	env := wire.Envelope{Type: wire.TypeCommand, Payload: []byte("not json")}
	out := d.Dispatch(env)
	if got := decodeError(t, out[0]); got.Code != wire.ErrInvalidJSON {
		t.Errorf("error code = %q, want %q", got.Code, wire.ErrInvalidJSON)
	}
}

func TestSanitizeFileName_ReplacesDisallowedCharacters(t *testing.T) {
	got := sanitizeFileName("../../etc/passwd; rm -rf /")
	if got == "" {
		t.Fatal("sanitizeFileName returned empty string")
	}
	for _, r := range got {
		allowed := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
		if !allowed {
			t.Fatalf("sanitized name %q contains disallowed character %q", got, r)
		}
	}
}

func TestSanitizeFileName_ReplacesPathSeparatorsRatherThanStrippingThem(t *testing.T) {
	got := sanitizeFileName("../../etc/passwd")
	if got != ".._.._etc_passwd" {
		t.Errorf("sanitizeFileName(../../etc/passwd) = %q, want %q", got, ".._.._etc_passwd")
	}
}
