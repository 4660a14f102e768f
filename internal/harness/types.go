package harness

// Trace actions.
const (
	ActionInsert = "insert"
	ActionReject = "reject"
	ActionDelete = "delete"
	ActionSkip   = "skip"
)

// TraceEvent is one decision the pipeline made.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Action string `json:"action"`
	URI    string `json:"uri,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// LedgerRow is a ledger entry as it appears in snapshots.
type LedgerRow struct {
	URI         string `json:"uri"`
	ReplyParent string `json:"reply_parent,omitempty"`
	IndexedAt   int64  `json:"indexed_at"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates every assertion held.
	Pass bool `json:"pass"`

	// Trace lists pipeline decisions in commit order.
	Trace []TraceEvent `json:"trace"`

	// Ledger is the final ledger in feed order.
	Ledger []LedgerRow `json:"ledger"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Ledger: []LedgerRow{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(seq int64, action, uri, reason string) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Action: action, URI: uri, Reason: reason})
}
