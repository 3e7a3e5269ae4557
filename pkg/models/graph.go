package models

import "maps"

// NodeKind identifies what a node does when an execution reaches it.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindDelay     NodeKind = "delay"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindEnd       NodeKind = "end"
)

// Labels carried by the two outgoing edges of a condition node.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Graph is the engine representation of an automation: nodes plus labeled edges.
// Positions and other display data never reach this type.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Node is a graph vertex. Exactly one config pointer matching Kind is set.
type Node struct {
	ID        string           `json:"id"`
	Kind      NodeKind         `json:"kind"`
	Name      string           `json:"name,omitempty"`
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
}

// Edge connects two nodes. Label is set only on condition outputs.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Clone returns a deep copy safe to keep as a snapshot.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}

	out := &Graph{
		Nodes: make([]*Node, 0, len(g.Nodes)),
		Edges: make([]*Edge, 0, len(g.Edges)),
	}

	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, n.clone())
	}

	for _, e := range g.Edges {
		edge := *e
		out.Edges = append(out.Edges, &edge)
	}

	return out
}

func (n *Node) clone() *Node {
	c := &Node{ID: n.ID, Kind: n.Kind, Name: n.Name}

	if n.Trigger != nil {
		t := *n.Trigger
		t.Filters = maps.Clone(n.Trigger.Filters)

		if n.Trigger.IsFirstOrder != nil {
			v := *n.Trigger.IsFirstOrder
			t.IsFirstOrder = &v
		}

		c.Trigger = &t
	}

	if n.Delay != nil {
		d := *n.Delay
		c.Delay = &d
	}

	if n.Condition != nil {
		cond := *n.Condition
		if values, ok := n.Condition.Value.([]any); ok {
			cond.Value = append([]any(nil), values...)
		}

		c.Condition = &cond
	}

	if n.Action != nil {
		a := *n.Action
		a.Variables = maps.Clone(n.Action.Variables)
		a.Tags = append([]string(nil), n.Action.Tags...)
		a.RemoveTags = append([]string(nil), n.Action.RemoveTags...)

		if n.Action.Discount != nil {
			d := *n.Action.Discount
			a.Discount = &d
		}

		c.Action = &a
	}

	return c
}
