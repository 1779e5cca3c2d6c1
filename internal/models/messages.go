package models

import "encoding/json"

const (
	EventDataUpdate        = "data_update"
	EventInitialDataLoad   = "initial_data_load"
	EventMaintenanceStatus = "maintenance_status"
)

// DataUpdateMessage is pushed to every other live session of a tenant after
// a committed state change. Data is the authoritative post-state, or {id}
// for deletes.
type DataUpdateMessage struct {
	EventType     string          `json:"eventType"`
	TenantID      string          `json:"tenantId"`
	EntityType    EntityType      `json:"entityType"`
	OperationType OperationType   `json:"operationType"`
	Data          json.RawMessage `json:"data"`
}

func NewDataUpdate(tenantID string, entityType EntityType, op OperationType, data json.RawMessage) DataUpdateMessage {
	return DataUpdateMessage{
		EventType:     EventDataUpdate,
		TenantID:      tenantID,
		EntityType:    entityType,
		OperationType: op,
		Data:          data,
	}
}

// InitialDataPayload lists every live entity of a tenant, master data first.
// Rows go out verbatim as stored, so no decode round trip is paid here.
type InitialDataPayload struct {
	Accounts             []json.RawMessage `json:"accounts"`
	AccountGroups        []json.RawMessage `json:"accountGroups"`
	Categories           []json.RawMessage `json:"categories"`
	CategoryGroups       []json.RawMessage `json:"categoryGroups"`
	Recipients           []json.RawMessage `json:"recipients"`
	Tags                 []json.RawMessage `json:"tags"`
	AutomationRules      []json.RawMessage `json:"automationRules"`
	PlanningTransactions []json.RawMessage `json:"planningTransactions"`
	Transactions         []json.RawMessage `json:"transactions"`
}

// Set assigns the rows for one entity kind. Unknown kinds are ignored, the
// initial load only ever carries the nine known ones.
func (p *InitialDataPayload) Set(t EntityType, rows []json.RawMessage) {
	if rows == nil {
		rows = []json.RawMessage{}
	}
	switch t {
	case EntityAccount:
		p.Accounts = rows
	case EntityAccountGroup:
		p.AccountGroups = rows
	case EntityCategory:
		p.Categories = rows
	case EntityCategoryGroup:
		p.CategoryGroups = rows
	case EntityRecipient:
		p.Recipients = rows
	case EntityTag:
		p.Tags = rows
	case EntityAutomationRule:
		p.AutomationRules = rows
	case EntityPlanningTransaction:
		p.PlanningTransactions = rows
	case EntityTransaction:
		p.Transactions = rows
	}
}

type InitialDataLoadMessage struct {
	EventType string             `json:"eventType"`
	TenantID  string             `json:"tenantId"`
	Payload   InitialDataPayload `json:"payload"`
}

func NewInitialDataLoad(tenantID string, payload InitialDataPayload) InitialDataLoadMessage {
	return InitialDataLoadMessage{
		EventType: EventInitialDataLoad,
		TenantID:  tenantID,
		Payload:   payload,
	}
}

// MaintenanceStatusMessage is advisory only; processing continues while it
// is active.
type MaintenanceStatusMessage struct {
	EventType string `json:"eventType"`
	Enabled   bool   `json:"enabled"`
	Message   string `json:"message,omitempty"`
}

func NewMaintenanceStatus(enabled bool, message string) MaintenanceStatusMessage {
	return MaintenanceStatusMessage{
		EventType: EventMaintenanceStatus,
		Enabled:   enabled,
		Message:   message,
	}
}
