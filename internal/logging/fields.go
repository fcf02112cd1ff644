package logging

// Standardized attribute keys. Stage and run identifiers appear on
// nearly every record the workflow emits; keeping the keys in one
// place keeps log queries stable.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldStage     = "stage"
	FieldRunID     = "run_id"
	FieldCommit    = "commit"
	FieldBranch    = "branch"
	FieldRequestID = "request_id"
)
