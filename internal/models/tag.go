package models

type Tag struct {
	EntityBase
	Name        string  `json:"name"`
	ParentTagID *string `json:"parentTagId,omitempty"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
}
