package models

import "time"

// Workflow statuses, in stage order. A record only ever moves forward
// through this sequence; the execution and validation stages each have
// failure variants at the same position.
const (
	StatusInitialized      = "initialized"
	StatusProfiled         = "profiled"
	StatusScriptGenerated  = "script_generated"
	StatusScriptSaved      = "script_saved"
	StatusExecuted         = "executed"
	StatusExecutionFailed  = "execution_failed"
	StatusExecutionTimeout = "execution_timeout"
	StatusValidated        = "validated"
	StatusValidationFailed = "validation_failed"
	StatusCompleted        = "completed"
)

// statusRank orders statuses for the monotonic-advance invariant.
// Failure variants share the rank of their stage.
var statusRank = map[string]int{
	StatusInitialized:      0,
	StatusProfiled:         1,
	StatusScriptGenerated:  2,
	StatusScriptSaved:      3,
	StatusExecuted:         4,
	StatusExecutionFailed:  4,
	StatusExecutionTimeout: 4,
	StatusValidated:        5,
	StatusValidationFailed: 5,
	StatusCompleted:        6,
}

// FileDescriptor identifies an uploaded source file.
type FileDescriptor struct {
	StorageLocator string `json:"storage_locator"` // s3://bucket/key or local path
	OriginalName   string `json:"original_name"`
	ContentType    string `json:"content_type"`
}

// RecordValidation is the three-way reconciliation verdict. The three
// counts are always echoed alongside the status and message.
type RecordValidation struct {
	Status           string `json:"status"` // success | warning | failed
	Message          string `json:"message"`
	SourceCount      int    `json:"source_count"`
	DestinationCount int    `json:"destination_count"`
	ProcessedCount   int    `json:"processed_count"`
}

// WorkflowRecord tracks one ETL run end to end. It is exclusively owned
// by the orchestrator for the duration of the run; stages mutate it in
// place and never share it across runs.
type WorkflowRecord struct {
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`

	File             FileDescriptor   `json:"file"`
	UserRequirements string           `json:"user_requirements"`
	Profiling        *ProfilingResult `json:"-"` // excluded from the persisted run log

	GeneratedScript string `json:"-"`
	ScriptSource    string `json:"script_source,omitempty"` // llm | template
	ScriptPath      string `json:"script_path,omitempty"`

	ExecutionOutput  string `json:"execution_output,omitempty"`
	ExecutionSuccess bool   `json:"execution_success"`
	ExecutionError   string `json:"execution_error,omitempty"`

	DestinationTableCreated bool   `json:"destination_table_created"`
	DestinationRowsInserted int    `json:"destination_rows_inserted"`
	DestinationError        string `json:"snowflake_error,omitempty"`

	SourceRecordCount      int               `json:"source_record_count"`
	ProcessedRecordCount   int               `json:"processed_record_count"`
	DestinationActualCount int               `json:"destination_actual_count"`
	RecordValidation       *RecordValidation `json:"record_validation,omitempty"`
}

// AdvanceStatus moves the record to next unless that would be a backward
// transition, in which case the current status is kept. Returns whether
// the transition was applied.
func (r *WorkflowRecord) AdvanceStatus(next string) bool {
	cur, okCur := statusRank[r.Status]
	nxt, okNext := statusRank[next]
	if !okNext {
		return false
	}
	if okCur && nxt < cur {
		return false
	}
	r.Status = next
	return true
}
