package model

// Subject is the entity being profiled, a legislator. The list endpoint
// returns a trimmed record; the detail endpoint fills in the rest.
type Subject struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Party  string `json:"party,omitempty"`
	Region string `json:"region,omitempty"`
	Photo  string `json:"photo,omitempty"`
	Email  string `json:"email,omitempty"`
	Status string `json:"status,omitempty"`
}
