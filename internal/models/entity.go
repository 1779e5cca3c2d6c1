package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	EntityAccountGroup        EntityType = "AccountGroup"
	EntityAccount             EntityType = "Account"
	EntityCategoryGroup       EntityType = "CategoryGroup"
	EntityCategory            EntityType = "Category"
	EntityRecipient           EntityType = "Recipient"
	EntityTag                 EntityType = "Tag"
	EntityAutomationRule      EntityType = "AutomationRule"
	EntityTransaction         EntityType = "Transaction"
	EntityPlanningTransaction EntityType = "PlanningTransaction"
)

// AllEntityTypes lists every known entity kind, master data first.
var AllEntityTypes = []EntityType{
	EntityAccountGroup,
	EntityAccount,
	EntityCategoryGroup,
	EntityCategory,
	EntityRecipient,
	EntityTag,
	EntityAutomationRule,
	EntityTransaction,
	EntityPlanningTransaction,
}

// Application stages. Master data is committed fully before anything that
// references it; unknown kinds trail behind as best effort.
const (
	StageMaster    = 1
	StageDependent = 2
	StageUnknown   = 3
)

func (t EntityType) Stage() int {
	switch t {
	case EntityAccountGroup, EntityAccount, EntityCategoryGroup, EntityCategory,
		EntityRecipient, EntityTag, EntityAutomationRule:
		return StageMaster
	case EntityTransaction, EntityPlanningTransaction:
		return StageDependent
	default:
		return StageUnknown
	}
}

func (t EntityType) Known() bool {
	return t.Stage() != StageUnknown
}

// ParseEntityType matches case-insensitively against the known kinds. Unknown
// input is returned unchanged with ok=false so callers can still route it.
func ParseEntityType(s string) (EntityType, bool) {
	for _, t := range AllEntityTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return EntityType(s), false
}

type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

func ParseOperation(s string) (OperationType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return OpCreate, true
	case "update":
		return OpUpdate, true
	case "delete":
		return OpDelete, true
	}
	return OperationType(strings.ToLower(s)), false
}

func (o *OperationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operation must be a string: %w", err)
	}
	op, _ := ParseOperation(s)
	*o = op
	return nil
}

// EntityBase carries the fields shared by every synced record. UpdatedAt is
// the authoritative last-write clock, CreatedAt is immutable after insert.
type EntityBase struct {
	ID        string    `json:"id"`
	CreatedAt Timestamp `json:"createdAt"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

func (b *EntityBase) EntityID() string           { return b.ID }
func (b *EntityBase) EntityCreatedAt() time.Time { return b.CreatedAt.Time }
func (b *EntityBase) EntityUpdatedAt() time.Time { return b.UpdatedAt.Time }
func (b *EntityBase) SetID(id string)            { b.ID = id }
func (b *EntityBase) SetCreatedAt(t time.Time)   { b.CreatedAt = NewTimestamp(t) }
func (b *EntityBase) SetUpdatedAt(t time.Time)   { b.UpdatedAt = NewTimestamp(t) }

// Entity is implemented by all nine record kinds via EntityBase.
type Entity interface {
	EntityID() string
	EntityCreatedAt() time.Time
	EntityUpdatedAt() time.Time
	SetID(string)
	SetCreatedAt(time.Time)
	SetUpdatedAt(time.Time)
}

// NewEntity returns an empty typed record for the given kind.
func NewEntity(t EntityType) (Entity, bool) {
	switch t {
	case EntityAccountGroup:
		return &AccountGroup{}, true
	case EntityAccount:
		return &Account{}, true
	case EntityCategoryGroup:
		return &CategoryGroup{}, true
	case EntityCategory:
		return &Category{}, true
	case EntityRecipient:
		return &Recipient{}, true
	case EntityTag:
		return &Tag{}, true
	case EntityAutomationRule:
		return &AutomationRule{}, true
	case EntityTransaction:
		return &Transaction{}, true
	case EntityPlanningTransaction:
		return &PlanningTransaction{}, true
	}
	return nil, false
}

// DecodeEntity decodes a change payload into the typed record for its
// declared kind. Unknown fields are rejected so a payload of the wrong shape
// surfaces here instead of being half-written.
func DecodeEntity(t EntityType, payload []byte) (Entity, error) {
	e, ok := NewEntity(t)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(e); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return e, nil
}
