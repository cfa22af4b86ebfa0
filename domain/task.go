package domain

import "time"

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

// Priority orders tasks by urgency. PriorityMedium is the default.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// statusEdges lists the allowed workflow transitions. A completed task must
// be reopened through IN_PROGRESS rather than jumping back to TODO so the
// reopen leaves a trail.
var statusEdges = map[Status][]Status{
	StatusTodo:       {StatusInProgress},
	StatusInProgress: {StatusInReview, StatusTodo},
	StatusInReview:   {StatusInProgress, StatusDone},
	StatusDone:       {StatusInProgress},
}

// ValidStatus reports whether s is one of the known workflow states.
func ValidStatus(s Status) bool {
	_, ok := statusEdges[s]
	return ok
}

// CanTransition reports whether the workflow allows moving from one status
// to another. A no-op transition (from == to) is not an edge.
func CanTransition(from, to Status) bool {
	for _, next := range statusEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a single tracked work item inside a project.
type Task struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Status        Status    `json:"status"`
	Priority      Priority  `json:"priority"`
	ReporterID    string    `json:"reporterId"`
	AssigneeID    string    `json:"assigneeId,omitempty"`
	ParentID      string    `json:"parentId,omitempty"`
	Labels        []string  `json:"labels,omitempty"`
	Attachments   []string  `json:"attachments,omitempty"`
	Watchers      []string  `json:"watchers"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	EstimateHours float64   `json:"estimateHours,omitempty"`
	Deleted       bool      `json:"deleted,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsWatcher reports whether userID is on the task's watcher list.
func (t *Task) IsWatcher(userID string) bool {
	for _, w := range t.Watchers {
		if w == userID {
			return true
		}
	}
	return false
}

// AddWatcher appends userID to the watcher list unless already present.
func (t *Task) AddWatcher(userID string) {
	if userID == "" || t.IsWatcher(userID) {
		return
	}
	t.Watchers = append(t.Watchers, userID)
}

// Comment is an entry in a task's discussion thread. Comments live in their
// own table and are append-only.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
