// Package session owns the Agent's table of live PTY sessions: spawn,
// input dispatch, output streaming, idle reaping, and graceful close.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pocketclaude/pocketclaude/history"
	"github.com/pocketclaude/pocketclaude/internal/logging"
	"github.com/pocketclaude/pocketclaude/project"
)

var log = logging.For("agent.session")

// Sentinel errors returned by Manager operations.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrSessionNotFound = errors.New("session not found")
)

// terminateGrace bounds how long CloseSession waits for the shell to
// exit on its own before force-killing it.
const terminateGrace = 3 * time.Second

// idleTimeout and reaperInterval implement §4.2.2's idle reaper.
const (
	idleTimeout    = 30 * time.Minute
	reaperInterval = 5 * time.Minute
)

// submitDelay is how long start_session waits after spawning the PTY
// before writing the launch command, giving the shell time to present
// a prompt.
const submitDelay = 500 * time.Millisecond

// doubleTapDelay is how long after send_input the Agent sends a second
// carriage return — a workaround for the underlying assistant CLI
// occasionally needing two submits. Exposed as Config fields so an
// operator can tune or disable it, per the open question in §9.
const doubleTapDelay = 100 * time.Millisecond

// Config configures a Manager's behavior. All fields are optional
// except Catalog and History.
type Config struct {
	Catalog    *project.Catalog
	History    *history.Store
	QuickHome  string
	LaunchCmd  string
	DoubleTap  bool
	TapDelay   time.Duration
	StartDelay time.Duration

	// OnOutput is invoked from the PTY reader goroutine with each raw
	// output chunk. May be nil.
	OnOutput func(sessionID string, data []byte)
	// OnClosed is invoked exactly once per session, whether closed
	// explicitly, by idle reaping, or by PTY exit. May be nil.
	OnClosed func(sessionID string)
}

// Manager owns the session table and all PTY lifecycle operations.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	sessions  map[string]*Session
	byProject map[string]string // projectID -> sessionID
	recorders map[string]*history.Recorder

	stopReaper chan struct{}
	wg         sync.WaitGroup
}

// NewManager creates a Manager and starts its idle-reaper goroutine.
func NewManager(cfg Config) *Manager {
	if cfg.TapDelay == 0 {
		cfg.TapDelay = doubleTapDelay
	}
	if cfg.StartDelay == 0 {
		cfg.StartDelay = submitDelay
	}
	m := &Manager{
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		byProject:  make(map[string]string),
		recorders:  make(map[string]*history.Recorder),
		stopReaper: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reapLoop()
	return m
}

// Shutdown stops the reaper and kills every live session's PTY.
func (m *Manager) Shutdown() {
	close(m.stopReaper)

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.CloseSession(id)
	}

	// wg also counts each session's readPTY goroutine, which only exits
	// once its PTY is closed, so wait only after closing every session.
	m.wg.Wait()
}

// resolveProject maps a (possibly empty) projectId to a project,
// synthesizing the quick session when absent or equal to the
// reserved sentinel.
func (m *Manager) resolveProject(projectID string) (project.Project, error) {
	if projectID == "" || projectID == project.QuickSessionID {
		return project.QuickSession(m.cfg.QuickHome), nil
	}
	p, ok := m.cfg.Catalog.Lookup(projectID)
	if !ok {
		return project.Project{}, ErrProjectNotFound
	}
	return p, nil
}

// StartSession spawns a new PTY session for projectID (or the quick
// session if empty/"__quick__"), closing any prior session bound to
// that project first. Returns the new session and whether prior
// context was injected.
func (m *Manager) StartSession(projectID string) (*Session, bool, error) {
	p, err := m.resolveProject(projectID)
	if err != nil {
		return nil, false, err
	}

	// Enforce at most one session per project: close any existing one
	// before spawning the replacement.
	m.mu.Lock()
	if existingID, ok := m.byProject[p.ID]; ok {
		m.mu.Unlock()
		m.CloseSession(existingID)
	} else {
		m.mu.Unlock()
	}

	ptmx, cmd, err := spawnPTY(p.Path)
	if err != nil {
		return nil, false, fmt.Errorf("start session for project %s: %w", p.ID, err)
	}

	id := uuid.New().String()
	title := p.Name
	if title == "" {
		title = id
	}
	sess := newSession(id, p.ID, p.Path, title)
	sess.PTY = ptmx
	sess.Cmd = cmd

	// Read prior context before Begin writes this session's own summary
	// file to disk — Begin's blank-preview entry would otherwise be the
	// newest file and show up as "previous context" for itself.
	contextSummary, err := m.cfg.History.ContextSummary(p.ID)
	if err != nil {
		log.Warn().Err(err).Str("projectId", p.ID).Msg("read context summary failed")
	}
	hasPreviousContext := contextSummary != ""

	recorder := m.cfg.History.Begin(p.ID, id)

	m.mu.Lock()
	m.sessions[id] = sess
	m.byProject[p.ID] = id
	m.recorders[id] = recorder
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readPTY(sess)

	go m.injectLaunch(sess, contextSummary)

	log.Info().Str("sessionId", id).Str("projectId", p.ID).Str("workingDir", p.Path).Msg("session started")

	return sess, hasPreviousContext, nil
}

// injectLaunch waits StartDelay then writes the previous-context
// summary (if any) followed by the launch command into the PTY, each
// terminated with a carriage return, as the underlying shell's prompt
// should be ready by then.
func (m *Manager) injectLaunch(sess *Session, contextSummary string) {
	time.Sleep(m.cfg.StartDelay)

	if !m.sessionStillLive(sess.ID) {
		return
	}

	if contextSummary != "" {
		sess.PTY.Write([]byte(contextSummary + "\r"))
	}
	if m.cfg.LaunchCmd != "" {
		sess.PTY.Write([]byte(m.cfg.LaunchCmd + "\r"))
	}
}

func (m *Manager) sessionStillLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns a snapshot of all live sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SendInput writes input followed by a carriage return to the
// session's PTY, then schedules a second carriage return after
// TapDelay (the "submission double-tap"), if enabled. Updates
// lastActivity and marks the session active.
func (m *Manager) SendInput(sessionID, input string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	if _, err := sess.PTY.Write([]byte(input + "\r")); err != nil {
		return fmt.Errorf("write input to session %s: %w", sessionID, err)
	}
	sess.Touch()

	if m.cfg.DoubleTap {
		go func() {
			time.Sleep(m.cfg.TapDelay)
			// The session table may have mutated by the time this
			// fires; re-fetch rather than closing over the pointer's
			// validity.
			if s, ok := m.Get(sessionID); ok {
				s.PTY.Write([]byte("\r"))
			}
		}()
	}
	return nil
}

// Keepalive updates lastActivity without writing to the PTY, used by
// active Clients to defer the idle timer.
func (m *Manager) Keepalive(sessionID string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sess.Touch()
	return nil
}

// CloseSession terminates a session's PTY and removes it from the
// table. Safe to call more than once; subsequent calls are no-ops.
func (m *Manager) CloseSession(sessionID string) error {
	sess, removed := m.remove(sessionID)
	if !removed {
		return ErrSessionNotFound
	}

	gracefulTerminate(sess.Cmd, terminateGrace)
	sess.PTY.Close()

	log.Info().Str("sessionId", sessionID).Msg("session closed")
	return nil
}

// remove deletes sessionID from the table (if present), finalizes its
// history recorder, and invokes OnClosed exactly once. Returns the
// removed session and whether it was actually present.
func (m *Manager) remove(sessionID string) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.sessions, sessionID)
	if m.byProject[sess.ProjectID] == sessionID {
		delete(m.byProject, sess.ProjectID)
	}
	recorder := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()

	if recorder != nil {
		recorder.End()
	}
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(sessionID)
	}
	return sess, true
}

// readPTY streams PTY output into the ring buffer, history log, and
// OnOutput callback until the PTY closes (spontaneous exit) or the
// session is otherwise removed.
func (m *Manager) readPTY(sess *Session) {
	defer m.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := sess.PTY.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			sess.Touch()
			sess.Ring.Write(data)

			m.mu.Lock()
			recorder := m.recorders[sess.ID]
			m.mu.Unlock()
			if recorder != nil {
				recorder.Append(data)
			}

			if m.cfg.OnOutput != nil {
				m.cfg.OnOutput(sess.ID, data)
			}
		}
		if err != nil {
			// PTY closed: either an explicit CloseSession beat us
			// here (remove is a no-op then) or this is a spontaneous
			// exit that we must report ourselves.
			m.remove(sess.ID)
			return
		}
	}
}

// reapLoop scans the session table every reaperInterval and closes any
// session whose lastActivity exceeds idleTimeout.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle runs one reaper scan: it closes every session whose
// lastActivity exceeds idleTimeout.
func (m *Manager) reapIdle() {
	for _, sess := range m.List() {
		if sess.IdleSince(idleTimeout) {
			log.Info().Str("sessionId", sess.ID).Msg("idle session reaped")
			m.CloseSession(sess.ID)
		}
	}
}
