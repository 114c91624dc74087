package catalog

// Role classifies what an agent does within a team.
type Role string

const (
	RoleManager    Role = "manager"
	RoleSpecialist Role = "specialist"
)

// Strategy selects the execution shape for a team run.
type Strategy string

const (
	StrategySingleRoute        Strategy = "single-route"
	StrategyBroadcast          Strategy = "broadcast"
	StrategyManagerDecide      Strategy = "manager-decide"
	StrategyManagerOrchestrate Strategy = "manager-orchestrate"
)

// Model is a named external CLI worker definition. The args template
// must contain a {{prompt}} placeholder.
type Model struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	Command      string `json:"command"`
	ArgsTemplate string `json:"argsTemplate"`
	Enabled      bool   `json:"enabled"`
}

// Agent binds a role and a system prompt to exactly one model.
// Specialists carry specialty keywords used for routing; managers may
// carry a routing-mode hint.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Role         Role     `json:"role"`
	SystemPrompt string   `json:"systemPrompt"`
	ModelID      string   `json:"modelId"`
	Specialties  []string `json:"specialties,omitempty"`
	RoutingMode  string   `json:"routingMode,omitempty"`
}

// Team groups member agents under a manager with a dispatch strategy.
type Team struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ManagerAgentID string   `json:"managerAgentId"`
	MemberAgentIDs []string `json:"memberAgentIds"`
	Strategy       Strategy `json:"strategy"`
}

// State is the full configurable catalog.
type State struct {
	Models []Model `json:"models"`
	Agents []Agent `json:"agents"`
	Teams  []Team  `json:"teams"`
}

// ModelByID returns the model with the given id.
func (s *State) ModelByID(id string) (Model, bool) {
	for _, m := range s.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// AgentByID returns the agent with the given id.
func (s *State) AgentByID(id string) (Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// TeamByID returns the team with the given id.
func (s *State) TeamByID(id string) (Team, bool) {
	for _, t := range s.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

// TeamMembers resolves a team's member agent references in declaration
// order, silently skipping dangling ids.
func (s *State) TeamMembers(team Team) []Agent {
	members := make([]Agent, 0, len(team.MemberAgentIDs))
	for _, id := range team.MemberAgentIDs {
		if a, ok := s.AgentByID(id); ok {
			members = append(members, a)
		}
	}
	return members
}

// Manager resolves a team's manager agent, if configured.
func (s *State) Manager(team Team) (Agent, bool) {
	return s.AgentByID(team.ManagerAgentID)
}
