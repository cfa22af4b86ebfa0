// Package task owns the task entity lifecycle: validation, the status
// workflow, optimistic-concurrency writes and the events each mutation
// emits.
package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackhub/domain"
)

// Store is the slice of the domain store the task service needs.
type Store interface {
	GetTask(ctx context.Context, id string) (domain.Task, string, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task, etag string) error
	GetProject(ctx context.Context, id string) (domain.Project, string, error)
	InsertComment(ctx context.Context, c domain.Comment) error
}

// Events accepts domain events for asynchronous publication.
type Events interface {
	Enqueue(events ...domain.Event) error
}

// Service implements the task operations.
type Service struct {
	store  Store
	events Events
	logger *log.Logger
}

// NewService wires a task service to its collaborators.
func NewService(store Store, events Events, logger *log.Logger) *Service {
	return &Service{store: store, events: events, logger: logger}
}

// CreateInput is the caller-supplied part of a new task.
type CreateInput struct {
	ProjectID     string          `json:"projectId"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Priority      domain.Priority `json:"priority"`
	AssigneeID    string          `json:"assigneeId"`
	ParentID      string          `json:"parentId"`
	Labels        []string        `json:"labels"`
	Watchers      []string        `json:"watchers"`
	DueDate       *time.Time      `json:"dueDate"`
	EstimateHours float64         `json:"estimateHours"`
}

// Create validates input, persists a new task and emits TASK_CREATED.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID string) (domain.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if input.ProjectID == "" {
		return domain.Task{}, domain.ValidationError{Field: "projectId", Reason: "must not be empty"}
	}
	project, _, err := s.store.GetProject(ctx, input.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Task{}, domain.ValidationError{Field: "projectId", Reason: "does not resolve to a project"}
		}
		return domain.Task{}, err
	}
	if !project.RoleOf(actorID).AtLeast(domain.RoleMember) {
		return domain.Task{}, domain.ErrForbidden
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(priority) {
		return domain.Task{}, domain.ValidationError{Field: "priority", Reason: "unknown value"}
	}

	now := time.Now().UTC()
	t := domain.Task{
		ID:            uuid.NewString(),
		ProjectID:     input.ProjectID,
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		Status:        domain.StatusTodo,
		Priority:      priority,
		ReporterID:    actorID,
		AssigneeID:    input.AssigneeID,
		Labels:        input.Labels,
		DueDate:       input.DueDate,
		EstimateHours: input.EstimateHours,
		Watchers:      []string{actorID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, w := range input.Watchers {
		t.AddWatcher(w)
	}
	if input.AssigneeID != "" {
		t.AddWatcher(input.AssigneeID)
	}

	if input.ParentID != "" {
		if err := s.checkParent(ctx, &t, input.ParentID); err != nil {
			return domain.Task{}, err
		}
		t.ParentID = input.ParentID
	}

	if err := s.store.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	if err := s.emit(domain.EventTaskCreated, t, actorID, domain.TaskEventData{Task: t}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Patch carries the mutable task fields. Identity, project and reporter are
// deliberately absent: they cannot be changed after creation.
type Patch struct {
	Title         *string          `json:"title"`
	Description   *string          `json:"description"`
	Status        *domain.Status   `json:"status"`
	Priority      *domain.Priority `json:"priority"`
	ParentID      *string          `json:"parentId"`
	Labels        *[]string        `json:"labels"`
	Attachments   *[]string        `json:"attachments"`
	DueDate       *time.Time       `json:"dueDate"`
	EstimateHours *float64         `json:"estimateHours"`
}

// Update applies a partial update under optimistic concurrency and emits
// TASK_UPDATED, plus TASK_STATUS_CHANGED when the workflow state moved.
// A losing concurrent writer receives ErrConflict and must re-read.
func (s *Service) Update(ctx context.Context, id string, patch Patch, actorID string) (domain.Task, error) {
	t, etag, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Deleted {
		return domain.Task{}, domain.ErrNotFound
	}
	if err := s.requireMember(ctx, t.ProjectID, actorID); err != nil {
		return domain.Task{}, err
	}

	prevStatus := t.Status
	if patch.Status != nil && *patch.Status != t.Status {
		if !domain.ValidStatus(*patch.Status) {
			return domain.Task{}, domain.ValidationError{Field: "status", Reason: "unknown value"}
		}
		if !domain.CanTransition(t.Status, *patch.Status) {
			return domain.Task{}, domain.InvalidTransitionError{From: t.Status, To: *patch.Status}
		}
		t.Status = *patch.Status
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return domain.Task{}, domain.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		if !domain.ValidPriority(*patch.Priority) {
			return domain.Task{}, domain.ValidationError{Field: "priority", Reason: "unknown value"}
		}
		t.Priority = *patch.Priority
	}
	if patch.ParentID != nil {
		if *patch.ParentID == "" {
			t.ParentID = ""
		} else {
			if err := s.checkParent(ctx, &t, *patch.ParentID); err != nil {
				return domain.Task{}, err
			}
			t.ParentID = *patch.ParentID
		}
	}
	if patch.Labels != nil {
		t.Labels = *patch.Labels
	}
	if patch.Attachments != nil {
		t.Attachments = *patch.Attachments
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.EstimateHours != nil {
		t.EstimateHours = *patch.EstimateHours
	}
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTask(ctx, t, etag); err != nil {
		return domain.Task{}, err
	}

	events := make([]domain.Event, 0, 2)
	ev, err := domain.NewEvent(domain.EventTaskUpdated, domain.EntityTask, t.ID, t.ProjectID, actorID, domain.TaskEventData{Task: t, PrevStatus: prevStatus})
	if err != nil {
		return domain.Task{}, err
	}
	events = append(events, ev)
	if t.Status != prevStatus {
		ev, err := domain.NewEvent(domain.EventTaskStatusChanged, domain.EntityTask, t.ID, t.ProjectID, actorID, domain.TaskEventData{Task: t, PrevStatus: prevStatus})
		if err != nil {
			return domain.Task{}, err
		}
		events = append(events, ev)
	}
	if err := s.events.Enqueue(events...); err != nil {
		return domain.Task{}, domain.TransientError{Err: err}
	}
	return t, nil
}

// Assign sets the assignee, adds them to the watcher list and emits
// TASK_ASSIGNED so the dispatcher can target the new assignee, alongside
// the regular TASK_UPDATED for watchers.
func (s *Service) Assign(ctx context.Context, id, assigneeID, actorID string) (domain.Task, error) {
	if assigneeID == "" {
		return domain.Task{}, domain.ValidationError{Field: "assigneeId", Reason: "must not be empty"}
	}
	t, etag, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Deleted {
		return domain.Task{}, domain.ErrNotFound
	}
	project, _, err := s.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if !project.RoleOf(actorID).AtLeast(domain.RoleMember) {
		return domain.Task{}, domain.ErrForbidden
	}
	if _, ok := project.Member(assigneeID); !ok {
		return domain.Task{}, domain.ValidationError{Field: "assigneeId", Reason: "not a project member"}
	}

	t.AssigneeID = assigneeID
	t.AddWatcher(assigneeID)
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, t, etag); err != nil {
		return domain.Task{}, err
	}

	assigned, err := domain.NewEvent(domain.EventTaskAssigned, domain.EntityTask, t.ID, t.ProjectID, actorID, domain.AssignmentData{Task: t, AssigneeID: assigneeID})
	if err != nil {
		return domain.Task{}, err
	}
	updated, err := domain.NewEvent(domain.EventTaskUpdated, domain.EntityTask, t.ID, t.ProjectID, actorID, domain.TaskEventData{Task: t, PrevStatus: t.Status})
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.events.Enqueue(assigned, updated); err != nil {
		return domain.Task{}, domain.TransientError{Err: err}
	}
	return t, nil
}

// AddComment appends to the task's comment thread and emits TASK_COMMENTED.
func (s *Service) AddComment(ctx context.Context, id, authorID, content string) (domain.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Comment{}, domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	t, _, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Comment{}, err
	}
	if t.Deleted {
		return domain.Comment{}, domain.ErrNotFound
	}
	if err := s.requireMember(ctx, t.ProjectID, authorID); err != nil {
		return domain.Comment{}, err
	}

	c := domain.Comment{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := s.emit(domain.EventTaskCommented, t, authorID, domain.CommentData{Task: t, CommentID: c.ID, AuthorID: authorID, Content: content}); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// Delete soft-deletes a task so history and notifications keep resolving,
// and emits TASK_DELETED.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	t, etag, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Deleted {
		return domain.ErrNotFound
	}
	if err := s.requireMember(ctx, t.ProjectID, actorID); err != nil {
		return err
	}

	t.Deleted = true
	t.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, t, etag); err != nil {
		return err
	}
	return s.emit(domain.EventTaskDeleted, t, actorID, domain.TaskEventData{Task: t})
}

func (s *Service) emit(kind domain.EventKind, t domain.Task, actorID string, payload any) error {
	ev, err := domain.NewEvent(kind, domain.EntityTask, t.ID, t.ProjectID, actorID, payload)
	if err != nil {
		return err
	}
	if err := s.events.Enqueue(ev); err != nil {
		return domain.TransientError{Err: err}
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, projectID, userID string) error {
	project, _, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.RoleOf(userID).AtLeast(domain.RoleMember) {
		return domain.ErrForbidden
	}
	return nil
}

// checkParent verifies the prospective parent exists, lives in the same
// project and is not the task itself or one of its descendants. The walk is
// bounded so a corrupt chain cannot spin forever.
func (s *Service) checkParent(ctx context.Context, t *domain.Task, parentID string) error {
	if parentID == t.ID {
		return domain.ValidationError{Field: "parentId", Reason: "task cannot be its own parent"}
	}
	const maxDepth = 64
	current := parentID
	for depth := 0; current != ""; depth++ {
		if depth >= maxDepth {
			return domain.ValidationError{Field: "parentId", Reason: "parent chain too deep"}
		}
		parent, _, err := s.store.GetTask(ctx, current)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ValidationError{Field: "parentId", Reason: "does not resolve to a task"}
			}
			return err
		}
		if parent.ProjectID != t.ProjectID {
			return domain.ValidationError{Field: "parentId", Reason: "parent must be in the same project"}
		}
		if parent.ID == t.ID || parent.ParentID == t.ID {
			return domain.ValidationError{Field: "parentId", Reason: "would create a cycle"}
		}
		current = parent.ParentID
	}
	return nil
}
