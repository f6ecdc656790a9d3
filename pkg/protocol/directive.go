package protocol

// Directive represents an operator-issued instruction to the daemon.
type Directive string

const (
	DirectiveStart         Directive = "start"          // Begin pulling and dispatching queued work.
	DirectivePause         Directive = "pause"          // Hold new dispatch, in-flight work keeps running.
	DirectiveResume        Directive = "resume"         // Resume dispatch after a pause.
	DirectiveDrain         Directive = "drain"          // Stop dispatch, let in-flight work finish.
	DirectiveBillingPause  Directive = "billing_pause"  // Cost gate: deny dispatch until resumed.
	DirectiveBillingResume Directive = "billing_resume" // Clear the cost gate.
	DirectiveComplete      Directive = "complete"       // Worker run finished; args carry CompletionArgs.
)

// Valid reports whether d is one of the known directive values.
func (d Directive) Valid() bool {
	switch d {
	case DirectiveStart, DirectivePause, DirectiveResume, DirectiveDrain,
		DirectiveBillingPause, DirectiveBillingResume, DirectiveComplete:
		return true
	default:
		return false
	}
}

// CompletionArgs is the JSON args payload of a DirectiveComplete command,
// reporting the outcome of a finished worker run.
type CompletionArgs struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CommandRow represents a row in the commands SQLite table. The CLI writes
// commands; the daemon reads and processes them at the top of each tick.
type CommandRow struct {
	ID          int64  `json:"id"`
	Directive   string `json:"directive"`
	Args        string `json:"args"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at"`
}
