// Package reply interprets the free-text output of external workers.
// Both parsers are total: they degrade to a documented conservative
// default instead of failing, and always retain a bounded excerpt of
// the raw text for auditing.
package reply

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/agent-studio/internal/catalog"
)

// ParseMethod records which tier of the planner parser produced a
// decision.
type ParseMethod string

const (
	ParseTagged   ParseMethod = "tagged"
	ParseJSON     ParseMethod = "json"
	ParseFallback ParseMethod = "fallback"
)

// rawExcerptLimit bounds the retained raw-text excerpt.
const rawExcerptLimit = 1000

// PlannerDecision is the routing decision extracted from a manager's
// planning reply. AgentID is empty unless it names a valid team member.
type PlannerDecision struct {
	Mode    catalog.Strategy `json:"mode"`
	AgentID string           `json:"agentId,omitempty"`
	Reason  string           `json:"reason"`
	Raw     string           `json:"plannerRaw"`
	Parser  ParseMethod      `json:"parser"`
}

var (
	taggedBlockRe = regexp.MustCompile(`(?is)BEGIN_PLAN(.*?)END_PLAN`)
	tagModeRe     = regexp.MustCompile(`(?i)mode\s*[:=]\s*(single-route|broadcast)`)
	tagAgentRe    = regexp.MustCompile(`(?i)agent_id\s*[:=]\s*([a-zA-Z0-9_-]+)`)
	tagReasonRe   = regexp.MustCompile(`(?i)reason\s*[:=]\s*([^\n\r]+)`)
	jsonObjectRe  = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParsePlanner extracts a PlannerDecision from free text using three
// tiers, first match wins: a BEGIN_PLAN…END_PLAN tagged block, an
// embedded JSON object, then the conservative broadcast fallback.
func ParsePlanner(text string, validAgentIDs []string) PlannerDecision {
	raw := excerpt(text)

	if m := taggedBlockRe.FindStringSubmatch(text); m != nil {
		block := m[1]
		mode := catalog.StrategyBroadcast
		if mm := tagModeRe.FindStringSubmatch(block); mm != nil {
			mode = catalog.Strategy(strings.ToLower(mm[1]))
		}
		var agentID string
		if am := tagAgentRe.FindStringSubmatch(block); am != nil && contains(validAgentIDs, am[1]) {
			agentID = am[1]
		}
		var reason string
		if rm := tagReasonRe.FindStringSubmatch(block); rm != nil {
			reason = strings.TrimSpace(rm[1])
		}
		return PlannerDecision{Mode: mode, AgentID: agentID, Reason: reason, Raw: raw, Parser: ParseTagged}
	}

	if obj := jsonObjectRe.FindString(text); obj != "" {
		var parsed struct {
			Mode    string `json:"mode"`
			AgentID string `json:"agentId"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil {
			mode := catalog.StrategyBroadcast
			if parsed.Mode == string(catalog.StrategySingleRoute) {
				mode = catalog.StrategySingleRoute
			}
			var agentID string
			if contains(validAgentIDs, parsed.AgentID) {
				agentID = parsed.AgentID
			}
			return PlannerDecision{Mode: mode, AgentID: agentID, Reason: parsed.Reason, Raw: raw, Parser: ParseJSON}
		}
	}

	return PlannerDecision{
		Mode:   catalog.StrategyBroadcast,
		Reason: "planner-unparseable",
		Raw:    raw,
		Parser: ParseFallback,
	}
}

// excerpt truncates on a rune boundary so the retained tail is always
// valid UTF-8.
func excerpt(text string) string {
	if len(text) <= rawExcerptLimit {
		return text
	}
	cut := rawExcerptLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
