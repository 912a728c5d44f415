// Package session maintains per-project working sessions for the Scene
// Pipeline: running story state, episode summary, key facts, and an
// append-only turn log, alongside the project's retriever — spec §3
// Session.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loomforge/loom/internal/memory"
	"github.com/loomforge/loom/internal/model"
	"github.com/loomforge/loom/internal/retriever"
	"github.com/loomforge/loom/internal/store"
)

// Context is the persisted working state for one session, spec §3's
// Session tuple, mirroring original_source's SessionContext.
type Context struct {
	SessionID          string   `json:"session_id"`
	CreatedAt          string   `json:"created_at"`
	CurrentChapter     int      `json:"current_chapter"`
	CurrentScene       int      `json:"current_scene"`
	ActiveCharacters   []string `json:"active_characters"`
	EpisodeSummary     string   `json:"episode_summary"`
	KeyFacts           []string `json:"key_facts"`
	ActiveForeshadowing []string `json:"active_foreshadowing"`
}

// Turn is a single agent interaction, appended to the run log, mirroring
// original_source's AgentTurn.
type Turn struct {
	Agent      string         `json:"agent"`
	Operation  string         `json:"operation"`
	Input      map[string]any `json:"input_data"`
	Output     map[string]any `json:"output_data"`
	Timestamp  string         `json:"timestamp"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata"`
}

const (
	episodeSummaryMaxLen = 1000
	episodeSummarySnippet = 500
)

// Session is a working session for narrative generation: running context
// plus a retriever-backed context builder and an append-only turn log.
type Session struct {
	ProjectPath string
	Context     Context

	retriever   *retriever.Retriever
	contextBldr *retriever.ContextBuilder
	facts       *memory.FactsManager
	runs        *store.JSONLStore
}

// New creates a brand-new session, indexing the project's retriever corpus.
func New(projectPath string, vocabSize int) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	s := &Session{
		ProjectPath: projectPath,
		Context: Context{
			SessionID:      id,
			CreatedAt:      time.Now().UTC().Format(time.RFC3339),
			CurrentChapter: 1,
			CurrentScene:   1,
		},
		facts: &memory.FactsManager{ProjectPath: projectPath},
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	r := retriever.Open(projectPath, "default", vocabSize)
	if err := r.IndexProject(); err != nil {
		return nil, fmt.Errorf("session: index project: %w", err)
	}
	s.retriever = r
	s.contextBldr = &retriever.ContextBuilder{Retriever: r}
	return s, s.save()
}

// Load restores a session by id, or creates a fresh Context under that id
// if no session file exists yet, mirroring Session._load_session.
func Load(projectPath, sessionID string, vocabSize int) (*Session, error) {
	s := &Session{
		ProjectPath: projectPath,
		facts:       &memory.FactsManager{ProjectPath: projectPath},
	}
	if err := s.init(); err != nil {
		return nil, err
	}

	path := s.sessionPath(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		s.Context = Context{SessionID: sessionID, CreatedAt: time.Now().UTC().Format(time.RFC3339),
			CurrentChapter: 1, CurrentScene: 1}
	} else if err := json.Unmarshal(data, &s.Context); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}

	r := retriever.Open(projectPath, "default", vocabSize)
	s.retriever = r
	s.contextBldr = &retriever.ContextBuilder{Retriever: r}
	return s, nil
}

func (s *Session) init() error {
	runsDir := filepath.Join(s.ProjectPath, "runs")
	runs, err := store.Open(runsDir)
	if err != nil {
		return fmt.Errorf("session: open run log: %w", err)
	}
	s.runs = runs
	return nil
}

func newSessionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *Session) sessionsDir() string {
	return filepath.Join(s.ProjectPath, ".sessions")
}

func (s *Session) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

func (s *Session) save() error {
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("session: create sessions dir: %w", err)
	}
	data, err := json.MarshalIndent(s.Context, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal context: %w", err)
	}
	if err := os.WriteFile(s.sessionPath(s.Context.SessionID), data, 0o644); err != nil {
		return fmt.Errorf("session: write context: %w", err)
	}
	return nil
}

// LogTurn appends an agent turn to the run log, mirroring Session.log_turn.
func (s *Session) LogTurn(ctx context.Context, agent, operation string, input, output map[string]any, duration time.Duration) error {
	turn := Turn{
		Agent: agent, Operation: operation, Input: input, Output: output,
		Timestamp: time.Now().UTC().Format(time.RFC3339), DurationMS: duration.Milliseconds(),
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("session: marshal turn: %w", err)
	}
	return s.runs.Append(ctx, "session_"+s.Context.SessionID, store.RoleAssistant, string(data))
}

// RetrieveContext returns retriever-backed context for agentType, or "" if
// the session has no retriever attached.
func (s *Session) RetrieveContext(query, agentType string) string {
	if s.contextBldr == nil {
		return ""
	}
	return s.contextBldr.BuildContext(query, agentType)
}

// ContextBuilder exposes the session's retriever-backed context builder so
// callers assembling a shared assembler.Assembler (e.g. internal/pipeline)
// can wire it in without duplicating retriever construction.
func (s *Session) ContextBuilder() *retriever.ContextBuilder {
	return s.contextBldr
}

// UpdateEpisodeSummary appends a scene-tagged snippet to the running
// episode summary, truncating the summary to its last episodeSummaryMaxLen
// bytes, mirroring Session.update_episode_summary.
func (s *Session) UpdateEpisodeSummary(newContent string) error {
	snippet := newContent
	if len(snippet) > episodeSummarySnippet {
		snippet = snippet[:episodeSummarySnippet]
	}
	s.Context.EpisodeSummary += fmt.Sprintf("\n\n[Scene %d]\n%s", s.Context.CurrentScene, snippet)
	if len(s.Context.EpisodeSummary) > episodeSummaryMaxLen {
		s.Context.EpisodeSummary = s.Context.EpisodeSummary[len(s.Context.EpisodeSummary)-episodeSummaryMaxLen:]
	}
	return s.save()
}

// AddFact records a key fact for this session, delegating id assignment to
// FactsManager so the session and the project-level facts store share one
// sequence — spec §9's resolved Open Question unifying the two stores the
// original keeps split.
func (s *Session) AddFact(content, source string, category model.FactCategory, tags []string) (string, error) {
	id, err := s.facts.AddFact(content, source, category, tags)
	if err != nil {
		return "", err
	}
	s.Context.KeyFacts = append(s.Context.KeyFacts, id)
	return id, s.save()
}

// IncrementScene moves the session to the next scene, mirroring
// Session.increment_scene.
func (s *Session) IncrementScene() error {
	s.Context.CurrentScene++
	return s.save()
}

