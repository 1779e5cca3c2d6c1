package models

type PlanningTransaction struct {
	EntityBase
	AccountID           string     `json:"accountId"`
	CategoryID          *string    `json:"categoryId,omitempty"`
	RecipientID         *string    `json:"recipientId,omitempty"`
	TagIDs              []string   `json:"tagIds,omitempty"`
	Name                string     `json:"name"`
	AmountCents         int64      `json:"amountCents"`
	AmountType          string     `json:"amountType"`
	StartDate           Timestamp  `json:"startDate"`
	EndDate             *Timestamp `json:"endDate,omitempty"`
	RecurrencePattern   string     `json:"recurrencePattern"`
	RecurrenceCount     *int       `json:"recurrenceCount,omitempty"`
	ExecutionDay        *int       `json:"executionDay,omitempty"`
	TransactionType     string     `json:"transactionType"`
	TransferToAccountID *string    `json:"transferToAccountId,omitempty"`
	IsActive            bool       `json:"isActive"`
	ForecastOnly        bool       `json:"forecastOnly"`
	Note                *string    `json:"note,omitempty"`
}
