package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store is a JSON-file backed catalog. All reads hand out deep copies
// so callers can never mutate shared state behind the store's back.
type Store struct {
	path   string
	mu     sync.RWMutex
	state  State
	logger *zap.Logger
}

// NewStore opens (or seeds) the catalog file at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = DefaultState()
		s.logger.Info("seeding default catalog", zap.String("path", s.path))
		return s.persist()
	}
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("catalog file unreadable, using defaults", zap.Error(err))
		s.state = DefaultState()
		return nil
	}
	s.state = st
	return nil
}

func (s *Store) persist() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %s: %w", s.path, err)
	}
	return nil
}

// Snapshot returns a copy of the current catalog state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// Replace swaps the whole catalog and persists it.
func (s *Store) Replace(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(next)
	return s.persist()
}

func copyState(st State) State {
	out := State{
		Models: append([]Model(nil), st.Models...),
		Agents: make([]Agent, len(st.Agents)),
		Teams:  make([]Team, len(st.Teams)),
	}
	for i, a := range st.Agents {
		a.Specialties = append([]string(nil), a.Specialties...)
		out.Agents[i] = a
	}
	for i, t := range st.Teams {
		t.MemberAgentIDs = append([]string(nil), t.MemberAgentIDs...)
		out.Teams[i] = t
	}
	return out
}

// DefaultState returns the catalog seeded on first run: the three CLI
// workers and a default team of one manager and three specialists.
func DefaultState() State {
	return State{
		Models: []Model{
			{
				ID:           "model-claude",
				Name:         "Claude CLI",
				Provider:     "claude",
				Command:      "claude",
				ArgsTemplate: `-p "{{prompt}}"`,
				Enabled:      true,
			},
			{
				ID:           "model-codex",
				Name:         "Codex CLI",
				Provider:     "codex",
				Command:      "codex",
				ArgsTemplate: `exec "{{prompt}}"`,
				Enabled:      true,
			},
			{
				ID:           "model-gemini",
				Name:         "Gemini CLI",
				Provider:     "gemini",
				Command:      "gemini",
				ArgsTemplate: `"{{prompt}}"`,
				Enabled:      true,
			},
		},
		Agents: []Agent{
			{
				ID:           "agent-manager",
				Name:         "Manager Agent",
				Role:         RoleManager,
				SystemPrompt: "Route the task to the best specialist and summarize results.",
				ModelID:      "model-codex",
				RoutingMode:  "keyword",
			},
			{
				ID:           "agent-code",
				Name:         "Code Agent",
				Role:         RoleSpecialist,
				SystemPrompt: "Handle code generation and debugging tasks.",
				ModelID:      "model-codex",
				Specialties:  []string{"code", "bug", "debug", "refactor", "script"},
			},
			{
				ID:           "agent-docs",
				Name:         "Docs Agent",
				Role:         RoleSpecialist,
				SystemPrompt: "Handle writing, docs, and planning tasks.",
				ModelID:      "model-claude",
				Specialties:  []string{"doc", "write", "plan", "summary", "design"},
			},
			{
				ID:           "agent-research",
				Name:         "Research Agent",
				Role:         RoleSpecialist,
				SystemPrompt: "Handle information gathering and comparisons.",
				ModelID:      "model-gemini",
				Specialties:  []string{"research", "compare", "find", "search"},
			},
		},
		Teams: []Team{
			{
				ID:             "team-default",
				Name:           "Default Team",
				ManagerAgentID: "agent-manager",
				MemberAgentIDs: []string{"agent-code", "agent-docs", "agent-research"},
				Strategy:       StrategyBroadcast,
			},
		},
	}
}
