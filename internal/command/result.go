package command

// Result is the asynchronous-command-style acknowledgement returned for
// every accepted mutation and replayed verbatim for duplicate correlation
// IDs.
type Result struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	ResourceID    string `json:"resourceId,omitempty"`
}

func accepted(correlationID, message, resourceID string) Result {
	return Result{
		Status:        "accepted",
		Message:       message,
		CorrelationID: correlationID,
		ResourceID:    resourceID,
	}
}
