package regen

// Trigger selects which users a job targets and how the scorer is asked to treat
// their existing cache. The set of triggers is closed: Manual, Scheduled,
// SmartTargeted and Forced.
type Trigger interface {
	Label() string
	trigger()
}

// Manual refreshes exactly one user and clears that user's rows first.
type Manual struct {
	UserID string
}

// Scheduled sweeps every active user that finished onboarding.
type Scheduled struct{}

// SmartTargeted sweeps the users the staleness detector reports.
type SmartTargeted struct {
	MinValidRows int
	BatchLimit   int
}

// Forced selects like Scheduled but asks the scorer to ignore cache validity.
type Forced struct{}

func (Manual) Label() string { return "manual" }
func (Scheduled) Label() string { return "scheduled" }
func (SmartTargeted) Label() string { return "smart-targeted" }
func (Forced) Label() string { return "forced" }

func (Manual) trigger() {}
func (Scheduled) trigger() {}
func (SmartTargeted) trigger() {}
func (Forced) trigger() {}

// Job is one unit of regeneration work. It is consumed once.
type Job struct {
	Trigger Trigger
}

// Result summarizes a finished job. Errors holds one "<user>: <message>" entry per
// failed or skipped user; a non-empty list means partial failure. Skipped users were
// never attempted because the run was canceled.
type Result struct {
	Trigger    string   `json:"trigger"`
	TotalUsers int      `json:"total_users"`
	Processed  int      `json:"processed"`
	Skipped    int      `json:"skipped,omitempty"`
	Errors     []string `json:"errors"`
}

// Succeeded is the number of processed users without an error entry.
func (r Result) Succeeded() int {
	n := r.Processed - (len(r.Errors) - r.Skipped)
	if n < 0 {
		return 0
	}
	return n
}

// State is a step of the orchestrator's run.
type State string

const (
	StateSelecting   State = "selecting"
	StateBatching    State = "batching"
	StateInvoking    State = "invoking"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
)
