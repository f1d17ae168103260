// Package history manages the Agent's on-disk per-project session
// history: a raw append-only output log and a JSON summary for every
// session that has ever run, plus context stitching across sessions.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pocketclaude/pocketclaude/internal/logging"
)

var log = logging.For("agent.history")

// previewBytes is the trailing slice of the raw log kept in each
// session's summary file.
const previewBytes = 500

// Summary is the JSON structure written alongside each session's raw
// log: start/end timestamps and a trailing preview of the log.
type Summary struct {
	SessionID string `json:"sessionId"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	Preview   string `json:"preview"`
}

// Store owns the on-disk layout under <root>/<projectId>/ for every
// project the Agent has ever run a session for.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root (typically
// <user-home>/.pocketclaude/history).
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Recorder is the append-only writer for one session's history. It is
// created at session start and closed at session end or process exit.
type Recorder struct {
	store     *Store
	projectID string
	sessionID string
	startedAt time.Time
	logPath   string
	summary   string
	file      *os.File
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// Begin creates the log and summary files for a new session and
// returns a Recorder. History directory creation failures are logged
// and the Recorder is still returned in a disabled state — per §9's
// recommendation, the Agent should log and proceed rather than refuse
// to start a session when history is not writable.
func (s *Store) Begin(projectID, sessionID string) *Recorder {
	rec := &Recorder{
		store:     s,
		projectID: projectID,
		sessionID: sessionID,
		startedAt: time.Now(),
	}

	dir := s.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("cannot create history directory, session history disabled")
		return rec
	}

	stamp := rec.startedAt.UnixMilli()
	base := fmt.Sprintf("%d-%s", stamp, sessionID)
	rec.logPath = filepath.Join(dir, base+".log")
	rec.summary = filepath.Join(dir, base+".summary.json")

	f, err := os.OpenFile(rec.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", rec.logPath).Msg("cannot open history log, session history disabled")
		rec.logPath = ""
		return rec
	}
	rec.file = f

	rec.writeSummary(0)
	return rec
}

// Append writes a chunk of PTY output to the raw log and refreshes the
// summary's preview. Best-effort: I/O errors are logged, never
// propagated to the caller.
func (r *Recorder) Append(data []byte) {
	if r.file == nil {
		return
	}
	if _, err := r.file.Write(data); err != nil {
		log.Warn().Err(err).Str("path", r.logPath).Msg("history append failed")
		return
	}
	r.writeSummary(0)
}

// End finalizes the summary with an end timestamp and closes the log
// file.
func (r *Recorder) End() {
	if r.file == nil {
		return
	}
	r.writeSummary(time.Now().UnixMilli())
	if err := r.file.Close(); err != nil {
		log.Warn().Err(err).Str("path", r.logPath).Msg("history close failed")
	}
	r.file = nil
}

func (r *Recorder) writeSummary(endedAt int64) {
	if r.summary == "" {
		return
	}
	preview, err := tailBytes(r.logPath, previewBytes)
	if err != nil {
		log.Warn().Err(err).Str("path", r.logPath).Msg("read preview failed")
	}
	s := Summary{
		SessionID: r.sessionID,
		StartedAt: r.startedAt.UnixMilli(),
		EndedAt:   endedAt,
		Preview:   preview,
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("marshal summary failed")
		return
	}
	if err := os.WriteFile(r.summary, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", r.summary).Msg("write summary failed")
	}
}

// tailBytes reads up to n trailing bytes of the file at path.
func tailBytes(path string, n int) (string, error) {
	if path == "" {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	start := size - int64(n)
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Entry describes one historical session discovered on disk for
// get_session_history.
type Entry struct {
	Summary  Summary `json:"summary"`
	Filename string  `json:"filename"`
}

// List returns the newest N summaries for a project, sorted by
// filename (timestamp-prefixed) descending. limit<=0 means no limit.
func (s *Store) List(projectID string, limit int) ([]Entry, error) {
	dir := s.projectDir(projectID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history dir %s: %w", dir, err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".summary.json") {
			names = append(names, f.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("read summary failed")
			continue
		}
		var summary Summary
		if err := json.Unmarshal(data, &summary); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("parse summary failed")
			continue
		}
		entries = append(entries, Entry{Summary: summary, Filename: name})
	}
	return entries, nil
}

// LastOutput returns the content of the newest .log file for a
// project, or empty string if none exists.
func (s *Store) LastOutput(projectID string) (string, error) {
	dir := s.projectDir(projectID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read history dir %s: %w", dir, err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".log") {
			names = append(names, f.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	if err != nil {
		return "", fmt.Errorf("read log %s: %w", names[0], err)
	}
	return string(data), nil
}

const (
	contextHeader = "=== Previous Session Context ==="
	contextFooter = "=== End of Previous Context ==="
)

// ContextSummary returns the concatenation of the last three sessions'
// previews for a project, framed by the literal context markers. An
// empty string means no prior context is available.
func (s *Store) ContextSummary(projectID string) (string, error) {
	entries, err := s.List(projectID, 3)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(e.Summary.Preview)
		b.WriteString("\n")
	}
	b.WriteString(contextFooter)
	return b.String(), nil
}
