package uplink

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/pocketclaude/pocketclaude/history"
	"github.com/pocketclaude/pocketclaude/project"
	"github.com/pocketclaude/pocketclaude/session"
	"github.com/pocketclaude/pocketclaude/wire"
)

// uploadDir is where upload_file writes received files, relative to
// the target session's working directory, per §4.2.4's on-disk
// contract.
const uploadDir = "uploads"

// defaultHistoryLimit is how many of a project's newest session
// summaries get_session_history returns, per §4.2.5. The command
// carries no count field, so every call uses this limit.
const defaultHistoryLimit = 10

// Dispatcher turns incoming command envelopes into session.Manager
// calls and produces the status/error/output envelopes to send back.
// It holds no connection state of its own so it can be reused across
// reconnects.
type Dispatcher struct {
	sessions *session.Manager
	catalog  *project.Catalog
	history  *history.Store
}

// NewDispatcher builds a Dispatcher over the given Agent-side state.
func NewDispatcher(sessions *session.Manager, catalog *project.Catalog, store *history.Store) *Dispatcher {
	return &Dispatcher{sessions: sessions, catalog: catalog, history: store}
}

// Dispatch handles one command envelope and returns the envelope(s) to
// send in response, in order.
func (d *Dispatcher) Dispatch(env wire.Envelope) []wire.Envelope {
	var cmd wire.CommandPayload
	if err := env.Decode(&cmd); err != nil {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrInvalidJSON, err.Error())}
	}

	switch cmd.Command {
	case wire.CommandListProjects:
		return d.listProjects()
	case wire.CommandListSessions:
		return d.listSessions()
	case wire.CommandStartSession:
		return d.startSession(cmd)
	case wire.CommandSendInput:
		return d.sendInput(cmd)
	case wire.CommandCloseSession:
		return d.closeSession(cmd)
	case wire.CommandKeepalive:
		return d.keepalive(cmd)
	case wire.CommandGetSessionHistory:
		return d.getSessionHistory(cmd)
	case wire.CommandGetLastOutput:
		return d.getLastOutput(cmd)
	case wire.CommandUploadFile:
		return d.uploadFile(cmd)
	default:
		return []wire.Envelope{d.errorEnvelope("", wire.ErrUnknownCommand, string(cmd.Command))}
	}
}

func (d *Dispatcher) errorEnvelope(sessionID string, code wire.ErrorCode, message string) wire.Envelope {
	env, err := wire.New(wire.TypeError, sessionID, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		// ErrorPayload always marshals; this path is unreachable.
		return wire.Envelope{Type: wire.TypeError}
	}
	return env
}

func (d *Dispatcher) statusEnvelope(sessionID string, kind wire.StatusKind, data any) wire.Envelope {
	env, err := wire.New(wire.TypeStatus, sessionID, wire.StatusPayload{Status: kind, Data: data, SessionID: sessionID})
	if err != nil {
		return wire.Envelope{Type: wire.TypeError}
	}
	return env
}

func (d *Dispatcher) listProjects() []wire.Envelope {
	projects := d.catalog.List()
	return []wire.Envelope{d.statusEnvelope("", wire.StatusProjectsList, projects)}
}

func (d *Dispatcher) listSessions() []wire.Envelope {
	sessions := d.sessions.List()
	snapshots := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.ToSnapshot(project.QuickSessionID))
	}
	return []wire.Envelope{d.statusEnvelope("", wire.StatusSessionsList, snapshots)}
}

func (d *Dispatcher) startSession(cmd wire.CommandPayload) []wire.Envelope {
	sess, hasContext, err := d.sessions.StartSession(cmd.ProjectID)
	if err != nil {
		if err == session.ErrProjectNotFound {
			return []wire.Envelope{d.errorEnvelope("", wire.ErrProjectNotFound, cmd.ProjectID)}
		}
		return []wire.Envelope{d.errorEnvelope("", wire.ErrUploadFailed, err.Error())}
	}

	snap := sess.ToSnapshot(project.QuickSessionID)
	payload := struct {
		session.Snapshot
		HasPreviousContext bool `json:"hasPreviousContext"`
	}{Snapshot: snap, HasPreviousContext: hasContext}

	return []wire.Envelope{d.statusEnvelope(sess.ID, wire.StatusSessionStarted, payload)}
}

func (d *Dispatcher) sendInput(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.SessionID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingSessionID, "")}
	}
	if cmd.Input == "" {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrMissingInput, "")}
	}
	if err := d.sessions.SendInput(cmd.SessionID, cmd.Input); err != nil {
		return []wire.Envelope{d.sessionError(cmd.SessionID, err)}
	}
	return nil
}

// closeSession terminates the session and returns no reply of its own
// on success: the Manager's OnClosed callback (wired to the uplink
// Client's SendClosed) is the single emission path for
// status{session_closed}, shared with the idle-reaper and spontaneous
// PTY-exit paths, so an explicit close_session doesn't double-send it.
func (d *Dispatcher) closeSession(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.SessionID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingSessionID, "")}
	}
	if err := d.sessions.CloseSession(cmd.SessionID); err != nil {
		return []wire.Envelope{d.sessionError(cmd.SessionID, err)}
	}
	return nil
}

func (d *Dispatcher) keepalive(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.SessionID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingSessionID, "")}
	}
	if err := d.sessions.Keepalive(cmd.SessionID); err != nil {
		return []wire.Envelope{d.sessionError(cmd.SessionID, err)}
	}
	return nil
}

func (d *Dispatcher) getSessionHistory(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.ProjectID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingProjectID, "")}
	}
	entries, err := d.history.List(cmd.ProjectID, defaultHistoryLimit)
	if err != nil {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrUploadFailed, err.Error())}
	}
	return []wire.Envelope{d.statusEnvelope("", wire.StatusSessionHistory, entries)}
}

func (d *Dispatcher) getLastOutput(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.ProjectID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingProjectID, "")}
	}
	data, err := d.history.LastOutput(cmd.ProjectID)
	if err != nil {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrUploadFailed, err.Error())}
	}
	return []wire.Envelope{d.statusEnvelope("", wire.StatusLastSessionOutput, data)}
}

func (d *Dispatcher) uploadFile(cmd wire.CommandPayload) []wire.Envelope {
	if cmd.SessionID == "" {
		return []wire.Envelope{d.errorEnvelope("", wire.ErrMissingSessionID, "")}
	}
	if cmd.FileContent == "" || cmd.FileName == "" {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrMissingFileData, "")}
	}

	sess, ok := d.sessions.Get(cmd.SessionID)
	if !ok {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrSessionNotFound, "")}
	}

	content, err := base64.StdEncoding.DecodeString(cmd.FileContent)
	if err != nil {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrUploadFailed, err.Error())}
	}

	dir := filepath.Join(sess.WorkingDir, uploadDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrUploadFailed, err.Error())}
	}

	name := sanitizeFileName(cmd.FileName)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return []wire.Envelope{d.errorEnvelope(cmd.SessionID, wire.ErrUploadFailed, err.Error())}
	}

	return []wire.Envelope{d.statusEnvelope(cmd.SessionID, wire.StatusFileUploaded, map[string]any{
		"fileName": name,
		"filePath": path,
		"size":     len(content),
	})}
}

// sanitizeFileName replaces every character outside [A-Za-z0-9._-] in
// name with '_', per upload_file's on-disk contract. It operates on
// the name as given, not a path-stripped basename: a supplied name
// containing "/" sanitizes to a literal "_", it is never used to
// escape the upload directory via path traversal.
func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (d *Dispatcher) sessionError(sessionID string, err error) wire.Envelope {
	if err == session.ErrSessionNotFound {
		return d.errorEnvelope(sessionID, wire.ErrSessionNotFound, "")
	}
	return d.errorEnvelope(sessionID, wire.ErrUploadFailed, err.Error())
}
