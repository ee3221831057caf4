package harness

import "github.com/roach88/castplan/internal/converge"

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Step   int           `json:"step"`
	Action string        `json:"action"`
	Key    string        `json:"key,omitempty"`
	Marker string        `json:"marker,omitempty"`
	Ledger *LedgerCounts `json:"ledger,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// LedgerCounts is a converge.Ledger reduced to counts, which unlike record
// IDs are stable across stores.
type LedgerCounts struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
	Redirected int `json:"redirected"`
	Dropped    int `json:"dropped"`
}

func countLedger(l converge.Ledger) *LedgerCounts {
	return &LedgerCounts{
		Created:    len(l.Created),
		Updated:    len(l.Updated),
		Deleted:    len(l.Deleted),
		Failed:     l.Failed,
		Redirected: l.Redirected,
		Dropped:    l.Dropped,
	}
}

// State summarizes the group's stored allocations after the flow.
type State struct {
	Live    int            `json:"live"`
	Deleted int            `json:"deleted"`
	Markers map[string]int `json:"markers"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	State  State        `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  State{Markers: map[string]int{}},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
