package models

type Recipient struct {
	EntityBase
	Name              string  `json:"name"`
	DefaultCategoryID *string `json:"defaultCategoryId,omitempty"`
	Note              *string `json:"note,omitempty"`
}
