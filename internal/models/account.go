package models

type AccountGroup struct {
	EntityBase
	Name      string  `json:"name"`
	SortOrder int     `json:"sortOrder"`
	LogoPath  *string `json:"logoPath,omitempty"`
}

type Account struct {
	EntityBase
	AccountGroupID  string  `json:"accountGroupId"`
	Name            string  `json:"name"`
	Description     *string `json:"description,omitempty"`
	Note            *string `json:"note,omitempty"`
	IBAN            *string `json:"iban,omitempty"`
	BalanceCents    int64   `json:"balanceCents"`
	OffsetCents     int64   `json:"offsetCents"`
	IsActive        bool    `json:"isActive"`
	IsOfflineBudget bool    `json:"isOfflineBudget"`
	SortOrder       int     `json:"sortOrder"`
	LogoPath        *string `json:"logoPath,omitempty"`
}
