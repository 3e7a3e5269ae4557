package models

import (
	"fmt"
	"time"
)

// EventType enumerates the domain events automations can react to.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderPaid      EventType = "order_paid"
	EventOrderDelivered EventType = "order_delivered"
	EventOrderCancelled EventType = "order_cancelled"
	EventCartAbandoned  EventType = "cart_abandoned"
	EventUserRegistered EventType = "user_registered"
)

var EventTypes = []EventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderDelivered,
	EventOrderCancelled,
	EventCartAbandoned,
	EventUserRegistered,
}

// TriggerConfig binds a trigger node to a domain event and optional filters.
type TriggerConfig struct {
	EventType    EventType      `json:"event_type"`
	IsFirstOrder *bool          `json:"is_first_order,omitempty"`
	WaitMinutes  int            `json:"wait_minutes,omitempty"` // debounce for events such as cart abandonment
	Filters      map[string]any `json:"filters,omitempty"`
}

type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// DelayConfig suspends an execution for Value units.
type DelayConfig struct {
	Value int       `json:"delay_value"`
	Unit  DelayUnit `json:"delay_unit"`
}

// Duration converts the configured delay to a time.Duration.
func (d DelayConfig) Duration() (time.Duration, error) {
	if d.Value <= 0 {
		return 0, fmt.Errorf("delay value must be positive, got %d", d.Value)
	}

	value := time.Duration(d.Value)

	switch d.Unit {
	case DelayUnitMinutes:
		return value * time.Minute, nil
	case DelayUnitHours:
		return value * time.Hour, nil
	case DelayUnitDays:
		return value * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown delay unit %q", d.Unit)
	}
}

type ConditionType string

const (
	ConditionOrderValue            ConditionType = "order_value"
	ConditionOrderItemCount        ConditionType = "order_item_count"
	ConditionCustomerType          ConditionType = "customer_type"
	ConditionDaysSinceRegistration ConditionType = "days_since_registration"
	ConditionHasPhone              ConditionType = "has_phone"
	ConditionOrderItems            ConditionType = "order_items"
	ConditionCustomerTags          ConditionType = "customer_tags"
)

type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// ConditionConfig compares a subject fact against Value.
type ConditionConfig struct {
	Type     ConditionType `json:"condition_type"`
	Operator Operator      `json:"operator"`
	Value    any           `json:"value"`
}

type ActionKind string

const (
	ActionSendEmail          ActionKind = "send_email"
	ActionSendSMS            ActionKind = "send_sms"
	ActionUpdateCustomerTags ActionKind = "update_customer_tags"
	ActionApplyDiscount      ActionKind = "apply_discount"
	ActionEndFlow            ActionKind = "end_flow"
)

// ActionConfig describes a side effect. Only the fields of Kind are used.
type ActionConfig struct {
	Kind       ActionKind        `json:"action_kind"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"` // name -> template expression
	Tags       []string          `json:"tags,omitempty"`
	RemoveTags []string          `json:"remove_tags,omitempty"`
	Discount   *DiscountConfig   `json:"discount,omitempty"`
}

// Channel returns the notification channel for send actions.
func (a ActionConfig) Channel() (Channel, bool) {
	switch a.Kind {
	case ActionSendEmail:
		return ChannelEmail, true
	case ActionSendSMS:
		return ChannelSMS, true
	default:
		return "", false
	}
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountConfig struct {
	Type      DiscountType `json:"type"`
	Amount    float64      `json:"amount"`
	ValidDays int          `json:"valid_days,omitempty"`
	Prefix    string       `json:"prefix,omitempty"`
}
