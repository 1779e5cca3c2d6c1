package models

type CategoryGroup struct {
	EntityBase
	Name          string `json:"name"`
	SortOrder     int    `json:"sortOrder"`
	IsIncomeGroup bool   `json:"isIncomeGroup"`
}

type Category struct {
	EntityBase
	CategoryGroupID   *string    `json:"categoryGroupId,omitempty"`
	ParentCategoryID  *string    `json:"parentCategoryId,omitempty"`
	Name              string     `json:"name"`
	Icon              *string    `json:"icon,omitempty"`
	BudgetedCents     int64      `json:"budgetedCents"`
	IsActive          bool       `json:"isActive"`
	IsIncomeCategory  bool       `json:"isIncomeCategory"`
	IsHidden          bool       `json:"isHidden"`
	IsSavingsGoal     bool       `json:"isSavingsGoal"`
	SortOrder         int        `json:"sortOrder"`
	TargetAmountCents *int64     `json:"targetAmountCents,omitempty"`
	TargetDate        *Timestamp `json:"targetDate,omitempty"`
}
