package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Summary is the lightweight listing shape returned by ListSessions,
// mirroring SessionManager.list_sessions's per-entry dict.
type Summary struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	Chapter   int    `json:"chapter"`
	Scene     int    `json:"scene"`
}

// Manager lists and deletes sessions for a project, mirroring
// original_source's SessionManager.
type Manager struct {
	ProjectPath string
}

// ListSessions returns every session under .sessions/, newest first.
// Malformed session files are skipped rather than failing the whole list.
func (m *Manager) ListSessions() []Summary {
	dir := filepath.Join(m.ProjectPath, ".sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var summaries []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var ctx Context
		if err := json.Unmarshal(data, &ctx); err != nil {
			continue
		}
		chapter, scene := ctx.CurrentChapter, ctx.CurrentScene
		if chapter == 0 {
			chapter = 1
		}
		if scene == 0 {
			scene = 1
		}
		summaries = append(summaries, Summary{
			SessionID: ctx.SessionID, CreatedAt: ctx.CreatedAt, Chapter: chapter, Scene: scene,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedAt > summaries[j].CreatedAt })
	return summaries
}

// DeleteSession removes a session's context file and its run log,
// mirroring SessionManager.delete_session. Missing files are not an error.
func (m *Manager) DeleteSession(sessionID string) error {
	sessionFile := filepath.Join(m.ProjectPath, ".sessions", sessionID+".json")
	if err := os.Remove(sessionFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete context: %w", err)
	}

	runFile := filepath.Join(m.ProjectPath, "runs", "session_"+sessionID+".jsonl")
	if err := os.Remove(runFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete run log: %w", err)
	}
	return nil
}
