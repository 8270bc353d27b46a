package hazard

import (
	"time"

	"backend-helmwatch/internal/alert"
)

type EventKind string

const (
	AlertFired           EventKind = "alert_fired"
	HazardReported       EventKind = "hazard_reported"
	HazardConfirmed      EventKind = "hazard_confirmed"
	HazardPassed         EventKind = "hazard_passed"
	CatalogRefreshed     EventKind = "catalog_refreshed"
	CatalogRefreshFailed EventKind = "catalog_refresh_failed"
	ProviderError        EventKind = "provider_error"
	PersistenceFailed    EventKind = "persistence_failed"
)

type Event struct {
	Kind     EventKind    `json:"kind"`
	HazardID string       `json:"hazard_id,omitempty"`
	Alert    *alert.Event `json:"alert,omitempty"`
	Count    int          `json:"count,omitempty"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}
