// Package model defines the shared data types for the scrape pipeline.
package model

// Source identifies one council planning portal we scrape.
type Source struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Tier       int    `json:"tier"`
	PortalURL  string `json:"portal_url"`
	PortalType string `json:"portal_type,omitempty"`
}

// HealthStatus reports whether a portal is reachable and responsive.
type HealthStatus struct {
	OK             bool   `json:"ok"`
	Message        string `json:"message,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
}
