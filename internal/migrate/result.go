package migrate

import "time"

// Tally counts the outcomes of one kind of migrated item.
type Tally struct {
	Done    int
	Skipped int
	Failed  int
}

// Total is the number of items seen.
func (t Tally) Total() int {
	return t.Done + t.Skipped + t.Failed
}

// Result is the outcome of a migration run.
type Result struct {
	RunID string

	// Users maps Trac usernames to the ids of the GitLab users created for
	// them. Users whose creation failed are absent.
	Users map[string]int

	UserTally   Tally
	Labels      Tally
	Milestones  Tally
	Issues      Tally
	Notes       Tally
	Attachments Tally
	Closed      Tally
	Wiki        Tally

	Started  time.Time
	Duration time.Duration
}

func newResult(runID string) *Result {
	return &Result{RunID: runID, Users: make(map[string]int)}
}

// Failures is the number of failed items across all kinds.
func (r *Result) Failures() int {
	n := 0
	for _, t := range []Tally{r.UserTally, r.Labels, r.Milestones, r.Issues, r.Notes, r.Attachments, r.Closed, r.Wiki} {
		n += t.Failed
	}
	return n
}
