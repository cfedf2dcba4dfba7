package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain event.
type EventType string

// Published event types.
const (
	EventProjectCreated              EventType = "ProjectCreated"
	EventProjectUpdated              EventType = "ProjectUpdated"
	EventProjectDeleted              EventType = "ProjectDeleted"
	EventServiceAdded                EventType = "ServiceAdded"
	EventServiceUpdated              EventType = "ServiceUpdated"
	EventServiceRemoved              EventType = "ServiceRemoved"
	EventServiceConfigurationUpdated EventType = "ServiceConfigurationUpdated"
	EventRelationshipEstablished     EventType = "ServiceRelationshipEstablished"
	EventRelationshipRemoved         EventType = "ServiceRelationshipRemoved"
	EventDeploymentStarted           EventType = "DeploymentStarted"
	EventDeploymentApproved          EventType = "DeploymentApproved"
	EventDeploymentStepCompleted     EventType = "DeploymentStepCompleted"
	EventDeploymentSucceeded         EventType = "DeploymentSucceeded"
	EventDeploymentFailed            EventType = "DeploymentFailed"
	EventDeploymentCancelled         EventType = "DeploymentCancelled"
	EventDeploymentTimedOut          EventType = "DeploymentTimedOut"
	EventDeploymentRolledBack        EventType = "DeploymentRolledBack"
)

// Event is the envelope published to the bus for every state change.
type Event struct {
	EventID       string            `json:"eventId"`
	CorrelationID string            `json:"correlationId"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	Source        string            `json:"source"`
	EventType     EventType         `json:"eventType"`
	AggregateID   string            `json:"aggregateId"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent assembles an envelope around a payload. Marshal failures are
// programming errors on our own types, so the payload degrades to null
// rather than aborting the command.
func NewEvent(eventType EventType, aggregateID string, payload any, now time.Time) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Event{
		EventID:     uuid.NewString(),
		Timestamp:   now.UTC(),
		Version:     "1.0",
		EventType:   eventType,
		AggregateID: aggregateID,
		Data:        data,
	}
}
