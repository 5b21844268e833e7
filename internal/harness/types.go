package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// TraceEvent records one invocation or completion.
//
// Args are kept unresolved ("$s", not the session id) so traces are stable
// across runs. Concurrent branches are recorded in declaration order, all
// invocations first, regardless of which finished first.
type TraceEvent struct {
	Step       int            `json:"step"`
	Type       string         `json:"type"`
	Action     string         `json:"action,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Replica    string         `json:"replica,omitempty"`
	Concurrent bool           `json:"concurrent,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Case       string         `json:"case,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views holds the converged summary of every followed session and
	// list, keyed by binding name. Values are *SessionSummary or
	// *ListSummary.
	Views map[string]any `json:"views,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// SessionSummary is the order-independent shape of a session view.
type SessionSummary struct {
	Status       string   `json:"status,omitempty"`
	Candidates   int      `json:"candidates,omitempty"`
	Eliminated   []string `json:"eliminated,omitempty"`
	Winner       string   `json:"winner,omitempty"`
	Participants int      `json:"participants,omitempty"`
	Deleted      bool     `json:"deleted,omitempty"`
}

// ListSummary is the order-independent shape of a list view.
// Collaborators are "user:role".
type ListSummary struct {
	Title         string   `json:"title,omitempty"`
	Shareable     bool     `json:"shareable,omitempty"`
	Items         []string `json:"items,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
	Deleted       bool     `json:"deleted,omitempty"`
}
