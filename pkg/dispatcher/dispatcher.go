// Package dispatcher renders action payloads and calls the external
// collaborators that carry out the side effect.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/models"
	"github.com/dukex/cartflow/pkg/persistence"
	"github.com/dukex/cartflow/pkg/template"
)

// Content is a rendered message.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	// Reference is stable across retries of the same step so the sender can deduplicate.
	Reference string `json:"reference"`
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, channel models.Channel, recipient string, content Content) (string, error)
}

// CustomerProfiles updates customer tags.
type CustomerProfiles interface {
	UpdateTags(ctx context.Context, customerID string, add, remove []string) error
}

// Promotions issues discounts and returns the generated code.
type Promotions interface {
	ApplyDiscount(ctx context.Context, customerID string, discount models.DiscountConfig, reference string) (string, error)
}

// Templates looks up stored message templates.
type Templates interface {
	ByID(ctx context.Context, id string) (*models.MessageTemplate, error)
}

// Outcome is what a dispatched action records in the step log.
type Outcome struct {
	MessageID string
	Detail    map[string]any
}

type Dispatcher struct {
	templates  Templates
	sender     Sender
	profiles   CustomerProfiles
	promotions Promotions
	logger     *slog.Logger
}

func New(templates Templates, sender Sender, profiles CustomerProfiles, promotions Promotions, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		templates:  templates,
		sender:     sender,
		profiles:   profiles,
		promotions: promotions,
		logger:     logger.With("module", "dispatcher"),
	}
}

// Reference is the idempotency reference passed to collaborators for a step.
func Reference(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// Dispatch performs action for execution. Errors wrapped with Permanent must not be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, action *models.ActionConfig, execution *models.Execution, nodeID string, facts conditions.Facts) (Outcome, error) {
	reference := Reference(execution.ID, nodeID)

	switch action.Kind {
	case models.ActionSendEmail, models.ActionSendSMS:
		return d.send(ctx, action, execution, reference, facts)
	case models.ActionUpdateCustomerTags:
		return d.updateTags(ctx, action, execution)
	case models.ActionApplyDiscount:
		return d.applyDiscount(ctx, action, execution, reference)
	case models.ActionEndFlow:
		return Outcome{Detail: map[string]any{"action_kind": string(action.Kind)}}, nil
	default:
		return Outcome{}, Permanent(fmt.Sprintf("unknown action kind %q", action.Kind), nil)
	}
}

func (d *Dispatcher) send(ctx context.Context, action *models.ActionConfig, execution *models.Execution, reference string, facts conditions.Facts) (Outcome, error) {
	channel, _ := action.Channel()

	recipient := execution.Subject.Email
	if channel == models.ChannelSMS {
		recipient = execution.Subject.Phone
		if recipient == "" {
			recipient, _ = facts[conditions.FactPhone].(string)
		}
	} else if recipient == "" {
		recipient, _ = facts[conditions.FactCustomerEmail].(string)
	}

	if recipient == "" {
		return Outcome{}, Permanent(fmt.Sprintf("subject has no %s recipient", channel), nil)
	}

	tmpl, err := d.templates.ByID(ctx, action.TemplateID)
	if errors.Is(err, persistence.ErrTemplateNotFound) {
		return Outcome{}, Permanent(fmt.Sprintf("template %q not found", action.TemplateID), err)
	}

	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load template %s: %w", action.TemplateID, err)
	}

	if tmpl.Channel != channel {
		return Outcome{}, Permanent(fmt.Sprintf("template %q is for %s, action sends %s", tmpl.ID, tmpl.Channel, channel), nil)
	}

	data := TemplateData(execution, facts, nil)

	vars, err := template.RenderMap(action.Variables, data)
	if err != nil {
		return Outcome{}, Permanent("failed to render variables", err)
	}

	data["vars"] = vars

	subject, err := template.RenderString(tmpl.ID+".subject", tmpl.Subject, data)
	if err != nil {
		return Outcome{}, Permanent("failed to render template subject", err)
	}

	body, err := template.RenderString(tmpl.ID, tmpl.Body, data)
	if err != nil {
		return Outcome{}, Permanent("failed to render template body", err)
	}

	messageID, err := d.sender.Send(ctx, channel, recipient, Content{Subject: subject, Body: body, Reference: reference})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to send %s: %w", channel, err)
	}

	d.logger.InfoContext(ctx, "message sent",
		"execution_id", execution.ID,
		"channel", channel,
		"template_id", tmpl.ID,
		"message_id", messageID)

	return Outcome{
		MessageID: messageID,
		Detail: map[string]any{
			"action_kind": string(action.Kind),
			"channel":     string(channel),
			"template_id": tmpl.ID,
			"message_id":  messageID,
			"reference":   reference,
		},
	}, nil
}

func (d *Dispatcher) updateTags(ctx context.Context, action *models.ActionConfig, execution *models.Execution) (Outcome, error) {
	if execution.Subject.CustomerID == "" {
		return Outcome{}, Permanent("subject has no customer to tag", nil)
	}

	if err := d.profiles.UpdateTags(ctx, execution.Subject.CustomerID, action.Tags, action.RemoveTags); err != nil {
		return Outcome{}, fmt.Errorf("failed to update customer tags: %w", err)
	}

	return Outcome{Detail: map[string]any{
		"action_kind": string(action.Kind),
		"added":       action.Tags,
		"removed":     action.RemoveTags,
	}}, nil
}

func (d *Dispatcher) applyDiscount(ctx context.Context, action *models.ActionConfig, execution *models.Execution, reference string) (Outcome, error) {
	if execution.Subject.CustomerID == "" {
		return Outcome{}, Permanent("subject has no customer to discount", nil)
	}

	if action.Discount == nil {
		return Outcome{}, Permanent("discount parameters missing", nil)
	}

	code, err := d.promotions.ApplyDiscount(ctx, execution.Subject.CustomerID, *action.Discount, reference)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to apply discount: %w", err)
	}

	return Outcome{Detail: map[string]any{
		"action_kind":   string(action.Kind),
		"discount_code": code,
		"reference":     reference,
	}}, nil
}

// TemplateData is the data message templates are rendered against.
func TemplateData(execution *models.Execution, facts conditions.Facts, vars map[string]string) map[string]any {
	name := execution.Subject.Name
	if name == "" {
		name, _ = facts[conditions.FactCustomerName].(string)
	}

	return map[string]any{
		"customer": map[string]any{
			"id":    execution.Subject.CustomerID,
			"name":  name,
			"email": execution.Subject.Email,
			"phone": execution.Subject.Phone,
		},
		"order": map[string]any{
			"id":         execution.Subject.OrderID,
			"total":      facts[conditions.FactOrderTotal],
			"item_count": facts[conditions.FactItemCount],
		},
		"cart": map[string]any{
			"id": execution.Subject.CartID,
		},
		"facts": map[string]any(facts),
		"vars":  vars,
		"execution": map[string]any{
			"id":            execution.ID,
			"automation_id": execution.AutomationID,
		},
	}
}
