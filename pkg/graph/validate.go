package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/models"
)

// ViolationCode identifies a structural or configuration problem.
type ViolationCode string

const (
	ViolationMissingTrigger       ViolationCode = "missing_trigger"
	ViolationDuplicateNode        ViolationCode = "duplicate_node"
	ViolationUnknownNodeKind      ViolationCode = "unknown_node_kind"
	ViolationDanglingEdge         ViolationCode = "dangling_edge"
	ViolationOrphanNode           ViolationCode = "orphan_node"
	ViolationTriggerIncoming      ViolationCode = "trigger_incoming"
	ViolationTriggerOutgoing      ViolationCode = "trigger_outgoing"
	ViolationConditionBranching   ViolationCode = "condition_branching"
	ViolationDelayOutgoing        ViolationCode = "delay_outgoing"
	ViolationActionOutgoing       ViolationCode = "action_outgoing"
	ViolationEndOutgoing          ViolationCode = "end_outgoing"
	ViolationCycle                ViolationCode = "cycle"
	ViolationInvalidConfig        ViolationCode = "invalid_config"
	ViolationIncompatibleOperator ViolationCode = "incompatible_operator"
	ViolationUnknownConditionType ViolationCode = "unknown_condition_type"
)

type Violation struct {
	Code    ViolationCode `json:"code"`
	NodeID  string        `json:"node_id,omitempty"`
	EdgeID  string        `json:"edge_id,omitempty"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	switch {
	case v.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", v.Code, v.NodeID, v.Message)
	case v.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", v.Code, v.EdgeID, v.Message)
	default:
		return fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
}

// ValidationResult lists every violation found in a graph.
type ValidationResult struct {
	Violations []Violation `json:"violations"`
}

func (r ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Has reports whether a violation with code was found.
func (r ValidationResult) Has(code ViolationCode) bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool { return v.Code == code })
}

func (r ValidationResult) Error() string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.String())
	}

	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) add(code ViolationCode, nodeID, edgeID, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Code:    code,
		NodeID:  nodeID,
		EdgeID:  edgeID,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks g with the built-in condition types.
func Validate(g *models.Graph) ValidationResult {
	return ValidateWith(g, conditions.Default())
}

// ValidateWith checks g and returns all violations. It does not modify g.
func ValidateWith(g *models.Graph, registry *conditions.Registry) ValidationResult {
	var result ValidationResult

	if g == nil || len(g.Nodes) == 0 {
		result.add(ViolationMissingTrigger, "", "", "graph has no trigger node")

		return result
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n == nil {
			continue
		}

		if seen[n.ID] {
			result.add(ViolationDuplicateNode, n.ID, "", "node id is used more than once")
		}

		seen[n.ID] = true
	}

	ix := NewIndex(g)

	for _, e := range g.Edges {
		if e == nil {
			continue
		}

		if _, ok := ix.Node(e.Source); !ok {
			result.add(ViolationDanglingEdge, "", e.ID, "source %q does not exist", e.Source)
		}

		if _, ok := ix.Node(e.Target); !ok {
			result.add(ViolationDanglingEdge, "", e.ID, "target %q does not exist", e.Target)
		}
	}

	if len(ix.Triggers()) == 0 {
		result.add(ViolationMissingTrigger, "", "", "graph has no trigger node")
	}

	for _, n := range ix.Nodes() {
		validateNode(&result, ix, n, registry)
	}

	if cyclic := cycleNodes(ix); len(cyclic) > 0 {
		result.add(ViolationCycle, cyclic[0], "", "nodes form a cycle: %s", strings.Join(cyclic, ", "))
	}

	return result
}

func validateNode(result *ValidationResult, ix *Index, n *models.Node, registry *conditions.Registry) {
	outgoing := ix.Outgoing(n.ID)
	incoming := ix.IncomingCount(n.ID)

	if n.Kind != models.NodeKindTrigger && incoming == 0 {
		result.add(ViolationOrphanNode, n.ID, "", "node has no incoming edge")
	}

	switch n.Kind {
	case models.NodeKindTrigger:
		if incoming > 0 {
			result.add(ViolationTriggerIncoming, n.ID, "", "trigger nodes cannot have incoming edges")
		}

		if len(outgoing) != 1 {
			result.add(ViolationTriggerOutgoing, n.ID, "", "trigger must have exactly one outgoing edge, has %d", len(outgoing))
		}
	case models.NodeKindDelay:
		if len(outgoing) != 1 {
			result.add(ViolationDelayOutgoing, n.ID, "", "delay must have exactly one outgoing edge, has %d", len(outgoing))
		}
	case models.NodeKindCondition:
		validateBranching(result, n, outgoing)

		if n.Condition != nil {
			validateCondition(result, n, registry)
		}
	case models.NodeKindAction:
		if n.Action != nil && n.Action.Kind == models.ActionEndFlow {
			if len(outgoing) > 0 {
				result.add(ViolationActionOutgoing, n.ID, "", "end_flow action cannot have outgoing edges")
			}
		} else if len(outgoing) > 1 {
			result.add(ViolationActionOutgoing, n.ID, "", "action can have at most one outgoing edge, has %d", len(outgoing))
		}
	case models.NodeKindEnd:
		if len(outgoing) > 0 {
			result.add(ViolationEndOutgoing, n.ID, "", "end node cannot have outgoing edges")
		}
	default:
		result.add(ViolationUnknownNodeKind, n.ID, "", "unknown node kind %q", n.Kind)

		return
	}

	if err := ValidateConfig(n); err != nil {
		result.add(ViolationInvalidConfig, n.ID, "", "%s", err.Error())
	}
}

func validateBranching(result *ValidationResult, n *models.Node, outgoing []*models.Edge) {
	labels := make(map[string]int, 2)
	for _, e := range outgoing {
		labels[NormalizeLabel(e.Label)]++
	}

	if len(outgoing) != 2 || labels[models.LabelTrue] != 1 || labels[models.LabelFalse] != 1 {
		result.add(ViolationConditionBranching, n.ID, "",
			"condition must have exactly one %q and one %q outgoing edge", models.LabelTrue, models.LabelFalse)
	}
}

func validateCondition(result *ValidationResult, n *models.Node, registry *conditions.Registry) {
	err := registry.Check(*n.Condition)

	switch {
	case err == nil:
	case errors.Is(err, conditions.ErrUnknownConditionType):
		result.add(ViolationUnknownConditionType, n.ID, "", "%s", err.Error())
	case errors.Is(err, conditions.ErrIncompatibleOperator):
		result.add(ViolationIncompatibleOperator, n.ID, "", "%s; allowed: %v", err.Error(), registry.Operators(n.Condition.Type))
	default:
		result.add(ViolationInvalidConfig, n.ID, "", "%s", err.Error())
	}
}

// cycleNodes runs Kahn's algorithm and returns the ids left with incoming
// edges, which are exactly the nodes on or behind a cycle.
func cycleNodes(ix *Index) []string {
	indegree := make(map[string]int)
	for _, n := range ix.Nodes() {
		indegree[n.ID] = 0
	}

	for _, n := range ix.Nodes() {
		for _, e := range ix.Outgoing(n.ID) {
			if _, ok := indegree[e.Target]; ok {
				indegree[e.Target]++
			}
		}
	}

	queue := make([]string, 0, len(indegree))
	for _, n := range ix.Nodes() {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, e := range ix.Outgoing(id) {
			if _, ok := indegree[e.Target]; !ok {
				continue
			}

			indegree[e.Target]--
			if indegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if visited == len(indegree) {
		return nil
	}

	var remaining []string
	for id, d := range indegree {
		if d > 0 {
			remaining = append(remaining, id)
		}
	}

	slices.Sort(remaining)

	return remaining
}

// NormalizeLabel maps editor handle names onto condition outputs.
func NormalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "true", "yes":
		return models.LabelTrue
	case "false", "no":
		return models.LabelFalse
	default:
		return label
	}
}
