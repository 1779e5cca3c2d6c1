package models

// Transaction.Payee is a cached projection of the referenced Recipient's
// name, refreshed on every write. It is never authoritative.
type Transaction struct {
	EntityBase
	AccountID             string     `json:"accountId"`
	CategoryID            *string    `json:"categoryId,omitempty"`
	RecipientID           *string    `json:"recipientId,omitempty"`
	TagIDs                []string   `json:"tagIds,omitempty"`
	Date                  Timestamp  `json:"date"`
	ValueDate             *Timestamp `json:"valueDate,omitempty"`
	AmountCents           int64      `json:"amountCents"`
	Description           *string    `json:"description,omitempty"`
	Note                  *string    `json:"note,omitempty"`
	TransactionType       string     `json:"transactionType"`
	RunningBalanceCents   int64      `json:"runningBalanceCents"`
	CounterTransactionID  *string    `json:"counterTransactionId,omitempty"`
	PlanningTransactionID *string    `json:"planningTransactionId,omitempty"`
	IsReconciliation      bool       `json:"isReconciliation"`
	IsCategoryTransfer    bool       `json:"isCategoryTransfer"`
	TransferToAccountID   *string    `json:"transferToAccountId,omitempty"`
	Reconciled            bool       `json:"reconciled"`
	Payee                 string     `json:"payee"`
}
