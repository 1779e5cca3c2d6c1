package models

import "encoding/json"

// AutomationRule conditions and actions are client-defined structures; the
// sync layer stores and forwards them without interpreting either.
type AutomationRule struct {
	EntityBase
	Name           string          `json:"name"`
	Description    *string         `json:"description,omitempty"`
	Stage          string          `json:"stage"`
	Conditions     json.RawMessage `json:"conditions,omitempty"`
	Actions        json.RawMessage `json:"actions,omitempty"`
	Priority       int             `json:"priority"`
	IsActive       bool            `json:"isActive"`
	ConditionLogic string          `json:"conditionLogic,omitempty"`
}
