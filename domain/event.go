package domain

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// EventKind identifies the state change an event records.
type EventKind string

const (
	EventTaskCreated                 EventKind = "TASK_CREATED"
	EventTaskUpdated                 EventKind = "TASK_UPDATED"
	EventTaskStatusChanged           EventKind = "TASK_STATUS_CHANGED"
	EventTaskAssigned                EventKind = "TASK_ASSIGNED"
	EventTaskCommented               EventKind = "TASK_COMMENTED"
	EventTaskDeleted                 EventKind = "TASK_DELETED"
	EventProjectCreated              EventKind = "PROJECT_CREATED"
	EventProjectMemberAdded          EventKind = "PROJECT_MEMBER_ADDED"
	EventProjectMemberRemoved        EventKind = "PROJECT_MEMBER_REMOVED"
	EventProjectOwnershipTransferred EventKind = "PROJECT_OWNERSHIP_TRANSFERRED"
)

// EntityType names the aggregate an event belongs to.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityProject EntityType = "project"
)

// Event is an immutable record of a domain state change, published on the
// event queue for asynchronous consumers. EntityID doubles as the queue
// partition key: ordering is only guaranteed among events sharing it.
type Event struct {
	ID         string                 `json:"id"`
	Kind       EventKind              `json:"kind"`
	EntityType EntityType             `json:"entityType"`
	EntityID   string                 `json:"entityId"`
	ProjectID  string                 `json:"projectId,omitempty"`
	ActorID    string                 `json:"actorId"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time       int64                  `json:"time"`
}

// NewEvent builds an event with a fresh id and the current timestamp.
// payload is serialized into Data; a nil payload leaves Data empty.
func NewEvent(kind EventKind, entityType EntityType, entityID, projectID, actorID string, payload any) (Event, error) {
	ev := Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		ProjectID:  projectID,
		ActorID:    actorID,
		Time:       time.Now().UTC().UnixMilli(),
	}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Data = data
	}
	return ev, nil
}

// TaskEventData is the payload of task lifecycle events. The task snapshot
// carries the watcher list so the dispatcher can resolve recipients without
// re-reading the write model.
type TaskEventData struct {
	Task       Task   `json:"task"`
	PrevStatus Status `json:"prevStatus,omitempty"`
}

// AssignmentData is the payload of TASK_ASSIGNED events.
type AssignmentData struct {
	Task       Task   `json:"task"`
	AssigneeID string `json:"assigneeId"`
}

// CommentData is the payload of TASK_COMMENTED events.
type CommentData struct {
	Task      Task   `json:"task"`
	CommentID string `json:"commentId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
}

// ProjectEventData is the payload of project lifecycle events.
type ProjectEventData struct {
	Project Project `json:"project"`
}

// MemberEventData is the payload of membership events.
type MemberEventData struct {
	Project Project `json:"project"`
	UserID  string  `json:"userId"`
	Role    Role    `json:"role,omitempty"`
}
