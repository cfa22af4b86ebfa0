package api

import (
	"context"

	"trackhub/domain"
	"trackhub/project"
	"trackhub/task"
)

// Tasks is the task-mutation surface the handlers call into.
type Tasks interface {
	Create(ctx context.Context, input task.CreateInput, actorID string) (domain.Task, error)
	Update(ctx context.Context, id string, patch task.Patch, actorID string) (domain.Task, error)
	Assign(ctx context.Context, id, assigneeID, actorID string) (domain.Task, error)
	AddComment(ctx context.Context, id, authorID, content string) (domain.Comment, error)
	Delete(ctx context.Context, id, actorID string) error
}

// Projects is the project-mutation surface the handlers call into.
type Projects interface {
	Create(ctx context.Context, input project.CreateInput, actorID string) (domain.Project, error)
	Get(ctx context.Context, id string) (domain.Project, error)
	AddMember(ctx context.Context, projectID, userID string, role domain.Role, actorID string) (domain.Project, error)
	RemoveMember(ctx context.Context, projectID, userID, actorID string) (domain.Project, error)
	TransferOwnership(ctx context.Context, projectID, newOwnerID, actorID string) (domain.Project, error)
}

// Reader serves the read-only task queries straight from storage.
type Reader interface {
	GetTask(ctx context.Context, id string) (domain.Task, string, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error)
}

// Notifications is the per-user notification read surface plus preferences.
type Notifications interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	GetPreference(ctx context.Context, userID string) (domain.Preference, error)
	PutPreference(ctx context.Context, p domain.Preference) error
}

// Authenticator is implemented by types able to extract actor ids from headers.
type Authenticator interface {
	ActorFromAuthHeader(string) (string, error)
}
