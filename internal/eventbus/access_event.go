package eventbus

import "time"

const (
	EventAccessDenied       = "access.denied"
	EventSessionSignedOut   = "session.signed_out"
	EventPermissionsChanged = "permissions.changed"
)

// EventMetadata describes the event itself.
type EventMetadata struct {
	EventType       string    `json:"event_type"`
	Timestamp       time.Time `json:"timestamp"`
	SourceServiceID string    `json:"source_service_id"`
	RequestID       string    `json:"request_id"`
}

// AccessDeniedEvent is published when a signed-in user is refused a page.
type AccessDeniedEvent struct {
	SubjectID   string        `json:"subject_id"`
	RoleClaim   string        `json:"role_claim"`
	Resource    string        `json:"resource"`
	Destination string        `json:"destination"`
	Metadata    EventMetadata `json:"meta"`
}

// SignedOutEvent is published when a session is cleared.
type SignedOutEvent struct {
	SubjectID string        `json:"subject_id"`
	Metadata  EventMetadata `json:"meta"`
}

// PermissionsChangedEvent is consumed from the backend when the grants of
// a subject change.
type PermissionsChangedEvent struct {
	SubjectID string        `json:"subject_id"`
	Metadata  EventMetadata `json:"meta"`
}
