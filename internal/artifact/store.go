// Package artifact owns the per-task on-disk workspace: state snapshot,
// event log, discussion/summary markdown, and named JSON artifacts. It is
// the only writer of these files; other components read.
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/util"
)

// taskIDPattern accepts the ids the service generates plus operator-supplied
// ones. Path traversal characters are rejected separately so the error is
// specific.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateTaskID trims and validates an id used to address artifact paths.
func ValidateTaskID(taskID string) (string, error) {
	key := strings.TrimSpace(taskID)
	if key == "" {
		return "", errors.ErrValidation("task_id", "task_id is required")
	}
	if strings.Contains(key, "..") || strings.Contains(key, "/") || strings.Contains(key, "\\") {
		return "", errors.ErrValidation("task_id", "invalid task_id")
	}
	if !taskIDPattern.MatchString(key) {
		return "", errors.ErrValidation("task_id", "invalid task_id")
	}
	return key, nil
}

// Workspace holds the resolved paths of one task's artifact directory.
type Workspace struct {
	Root          string
	StateJSON     string
	EventsJSONL   string
	DiscussionMD  string
	SummaryMD     string
	FinalReportMD string
	DecisionsJSON string
	ArtifactsDir  string
}

// ArtifactRef names one stored artifact payload.
type ArtifactRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Store manages `<root>/threads/<task_id>/` directories.
type Store struct {
	root string

	mu sync.Mutex
}

// NewStore creates a store rooted at the given directory. The directory is
// created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// ThreadsDir returns the directory holding all task workspaces.
func (s *Store) ThreadsDir() string {
	return filepath.Join(s.root, "threads")
}

// TaskDir returns the workspace directory for one task.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.ThreadsDir(), taskID)
}

// Workspace resolves all paths for one task without touching disk.
func (s *Store) Workspace(taskID string) Workspace {
	dir := s.TaskDir(taskID)
	return Workspace{
		Root:          dir,
		StateJSON:     filepath.Join(dir, "state.json"),
		EventsJSONL:   filepath.Join(dir, "events.jsonl"),
		DiscussionMD:  filepath.Join(dir, "discussion.md"),
		SummaryMD:     filepath.Join(dir, "summary.md"),
		FinalReportMD: filepath.Join(dir, "final_report.md"),
		DecisionsJSON: filepath.Join(dir, "decisions.json"),
		ArtifactsDir:  filepath.Join(dir, "artifacts"),
	}
}

// CreateTaskWorkspace seeds the full file set for a task: an initial state
// snapshot {task_id, status: queued}, empty markdown and log files, an
// empty decisions list, and the artifacts directory.
func (s *Store) CreateTaskWorkspace(taskID string) (Workspace, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return Workspace{}, err
	}
	ws := s.Workspace(key)

	if err := os.MkdirAll(ws.ArtifactsDir, 0755); err != nil {
		return Workspace{}, errors.ErrArtifactIO("create task workspace", err)
	}

	initial := map[string]any{"task_id": key, "status": "queued"}
	if err := s.writeJSONAtomic(ws.StateJSON, initial); err != nil {
		return Workspace{}, err
	}
	if err := s.writeJSONAtomic(ws.DecisionsJSON, []any{}); err != nil {
		return Workspace{}, err
	}
	for _, path := range []string{ws.EventsJSONL, ws.DiscussionMD, ws.SummaryMD, ws.FinalReportMD} {
		if err := touchFile(path); err != nil {
			return Workspace{}, err
		}
	}
	return ws, nil
}

// ReadState loads the current state snapshot. A missing file yields an
// empty map.
func (s *Store) ReadState(taskID string) (map[string]any, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Workspace(key).StateJSON)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errors.ErrArtifactIO("read state", err)
	}
	state := map[string]any{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.ErrArtifactIO("decode state", err)
	}
	return state, nil
}

// UpdateState merges patch keys into the state snapshot and writes it
// atomically.
func (s *Store) UpdateState(taskID string, patch map[string]any) error {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.ReadState(key)
	if err != nil {
		return err
	}
	if _, ok := state["task_id"]; !ok {
		state["task_id"] = key
	}
	for k, v := range patch {
		state[k] = v
	}
	return s.writeJSONAtomic(s.Workspace(key).StateJSON, state)
}

// AppendEventLine appends one event row to events.jsonl.
func (s *Store) AppendEventLine(evt *events.Event) error {
	key, err := ValidateTaskID(evt.TaskID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return errors.ErrArtifactIO("encode event", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.Workspace(key).EventsJSONL, line)
}

// ReadEvents parses events.jsonl. Unparseable lines are skipped; a missing
// file yields an empty list.
func (s *Store) ReadEvents(taskID string) ([]*events.Event, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Workspace(key).EventsJSONL)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrArtifactIO("read events", err)
	}

	var list []*events.Event
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var evt events.Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		list = append(list, &evt)
	}
	return list, nil
}

// AppendDiscussion appends a markdown section to discussion.md.
func (s *Store) AppendDiscussion(taskID, section string) error {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLine(s.Workspace(key).DiscussionMD, []byte(section))
}

// WriteSummary replaces summary.md.
func (s *Store) WriteSummary(taskID, text string) error {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFileString(s.Workspace(key).SummaryMD, text, 0644); err != nil {
		return errors.ErrArtifactIO("write summary", err)
	}
	return nil
}

// WriteFinalReport replaces final_report.md.
func (s *Store) WriteFinalReport(taskID, text string) error {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFileString(s.Workspace(key).FinalReportMD, text, 0644); err != nil {
		return errors.ErrArtifactIO("write final report", err)
	}
	return nil
}

// WriteDecisions replaces decisions.json.
func (s *Store) WriteDecisions(taskID string, decisions []map[string]any) error {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = []map[string]any{}
	}
	return s.writeJSONAtomic(s.Workspace(key).DecisionsJSON, decisions)
}

// WriteArtifactJSON stores a named payload under artifacts/<name>.json and
// returns its path.
func (s *Store) WriteArtifactJSON(taskID, name string, payload any) (string, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return "", err
	}
	cleanName, err := validateArtifactName(name)
	if err != nil {
		return "", err
	}

	dir := s.Workspace(key).ArtifactsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.ErrArtifactIO("create artifacts dir", err)
	}
	path := filepath.Join(dir, cleanName+".json")
	if err := s.writeJSONAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// ReadArtifactJSON returns the raw bytes of a named artifact, or nil when
// absent.
func (s *Store) ReadArtifactJSON(taskID, name string) ([]byte, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return nil, err
	}
	cleanName, err := validateArtifactName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Workspace(key).ArtifactsDir, cleanName+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrArtifactIO("read artifact", err)
	}
	return data, nil
}

// CollectTaskArtifacts lists stored artifacts sorted by name.
func (s *Store) CollectTaskArtifacts(taskID string) ([]ArtifactRef, error) {
	key, err := ValidateTaskID(taskID)
	if err != nil {
		return nil, err
	}
	dir := s.Workspace(key).ArtifactsDir
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrArtifactIO("list artifacts", err)
	}

	var refs []ArtifactRef
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		refs = append(refs, ArtifactRef{
			Name: strings.TrimSuffix(entry.Name(), ".json"),
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// ListTaskDirs returns task ids that have a workspace directory, newest
// modification first.
func (s *Store) ListTaskDirs() ([]string, error) {
	entries, err := os.ReadDir(s.ThreadsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrArtifactIO("list threads", err)
	}

	type dirInfo struct {
		name  string
		mtime int64
	}
	var dirs []dirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].mtime != dirs[j].mtime {
			return dirs[i].mtime > dirs[j].mtime
		}
		return dirs[i].name < dirs[j].name
	})

	names := make([]string, len(dirs))
	for i, d := range dirs {
		names[i] = d.name
	}
	return names, nil
}

func validateArtifactName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", errors.ErrValidation("name", "artifact name is required")
	}
	if !taskIDPattern.MatchString(clean) {
		return "", errors.ErrValidation("name", "invalid artifact name")
	}
	return clean, nil
}

func (s *Store) writeJSONAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.ErrArtifactIO("encode json", err)
	}
	if err := util.AtomicWriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.ErrArtifactIO("write json", err)
	}
	return nil
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.ErrArtifactIO("create file", err)
	}
	if err := f.Close(); err != nil {
		return errors.ErrArtifactIO("create file", err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.ErrArtifactIO("append", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.ErrArtifactIO("append", err)
	}
	return nil
}
