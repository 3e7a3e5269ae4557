package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/cartflow/pkg/models"
)

// EditorGraph is the document saved by the visual editor. Positions and
// other display data are dropped by FromEditor.
type EditorGraph struct {
	Nodes []EditorNode `json:"nodes"`
	Edges []EditorEdge `json:"edges"`
}

type EditorNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position EditorPosition `json:"position"`
	Data     map[string]any `json:"data"`
}

type EditorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type EditorEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

type editorData struct {
	Label string `json:"label"`

	EventType    string         `json:"eventType"`
	IsFirstOrder *bool          `json:"isFirstOrder"`
	WaitMinutes  int            `json:"waitMinutes"`
	Filters      map[string]any `json:"filters"`

	DelayValue int    `json:"delayValue"`
	DelayUnit  string `json:"delayUnit"`

	ConditionType string `json:"conditionType"`
	Operator      string `json:"operator"`
	Value         any    `json:"value"`

	ActionKind string            `json:"actionKind"`
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables"`
	Tags       []string          `json:"tags"`
	RemoveTags []string          `json:"removeTags"`
	Discount   *struct {
		Type      string  `json:"type"`
		Amount    float64 `json:"amount"`
		ValidDays int     `json:"validDays"`
		Prefix    string  `json:"prefix"`
	} `json:"discount"`
}

// FromEditor converts an editor document into an engine graph. It does not
// validate structure; call Validate on the result.
func FromEditor(doc EditorGraph) (*models.Graph, error) {
	g := &models.Graph{
		Nodes: make([]*models.Node, 0, len(doc.Nodes)),
		Edges: make([]*models.Edge, 0, len(doc.Edges)),
	}

	for _, en := range doc.Nodes {
		n, err := convertNode(en)
		if err != nil {
			return nil, fmt.Errorf("failed to convert node %s: %w", en.ID, err)
		}

		g.Nodes = append(g.Nodes, n)
	}

	for i, ee := range doc.Edges {
		id := ee.ID
		if id == "" {
			id = fmt.Sprintf("e%d-%s-%s", i, ee.Source, ee.Target)
		}

		label := ee.Label
		if label == "" {
			label = ee.SourceHandle
		}

		g.Edges = append(g.Edges, &models.Edge{
			ID:     id,
			Source: ee.Source,
			Target: ee.Target,
			Label:  edgeLabel(label),
		})
	}

	return g, nil
}

// edgeLabel keeps only condition outputs; other handle names carry no routing meaning.
func edgeLabel(label string) string {
	normalized := NormalizeLabel(label)
	if normalized == models.LabelTrue || normalized == models.LabelFalse {
		return normalized
	}

	return ""
}

func convertNode(en EditorNode) (*models.Node, error) {
	raw, err := json.Marshal(en.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node data: %w", err)
	}

	var data editorData
	if len(en.Data) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode node data: %w", err)
		}
	}

	n := &models.Node{
		ID:   en.ID,
		Kind: models.NodeKind(strings.ToLower(en.Type)),
		Name: data.Label,
	}

	switch n.Kind {
	case models.NodeKindTrigger:
		n.Trigger = &models.TriggerConfig{
			EventType:    models.EventType(data.EventType),
			IsFirstOrder: data.IsFirstOrder,
			WaitMinutes:  data.WaitMinutes,
			Filters:      data.Filters,
		}
	case models.NodeKindDelay:
		n.Delay = &models.DelayConfig{
			Value: data.DelayValue,
			Unit:  models.DelayUnit(data.DelayUnit),
		}
	case models.NodeKindCondition:
		n.Condition = &models.ConditionConfig{
			Type:     models.ConditionType(data.ConditionType),
			Operator: models.Operator(data.Operator),
			Value:    data.Value,
		}
	case models.NodeKindAction:
		n.Action = &models.ActionConfig{
			Kind:       models.ActionKind(data.ActionKind),
			TemplateID: data.TemplateID,
			Variables:  data.Variables,
			Tags:       data.Tags,
			RemoveTags: data.RemoveTags,
		}

		if data.Discount != nil {
			n.Action.Discount = &models.DiscountConfig{
				Type:      models.DiscountType(data.Discount.Type),
				Amount:    data.Discount.Amount,
				ValidDays: data.Discount.ValidDays,
				Prefix:    data.Discount.Prefix,
			}
		}
	}

	return n, nil
}
