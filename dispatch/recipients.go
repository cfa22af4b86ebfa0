package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"trackhub/domain"
)

// ErrUnknownKind marks an event kind this dispatcher version does not
// recognize. Such events are logged and dropped, never retried.
var ErrUnknownKind = errors.New("unknown event kind")

// ProjectSource resolves project snapshots for events whose payload does not
// carry one, currently only TASK_CREATED.
type ProjectSource interface {
	GetProject(ctx context.Context, id string) (domain.Project, string, error)
}

// resolution is the recipient set and rendered content for one event.
type resolution struct {
	recipients []string
	content    string
}

// resolve maps an event to its candidate recipients per kind. The actor who
// caused the change never notifies themselves.
func (d *Dispatcher) resolve(ctx context.Context, ev domain.Event) (resolution, error) {
	switch ev.Kind {
	case domain.EventTaskCreated:
		var data domain.TaskEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		p, _, err := d.projects.GetProject(ctx, data.Task.ProjectID)
		if err != nil {
			return resolution{}, err
		}
		var recipients []string
		if p.Settings.DefaultAssigneeID != "" {
			recipients = []string{p.Settings.DefaultAssigneeID}
		}
		return resolution{
			recipients: exclude(recipients, ev.ActorID),
			content:    fmt.Sprintf("New task %q in project %s", data.Task.Title, p.Key),
		}, nil

	case domain.EventTaskAssigned:
		var data domain.AssignmentData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude([]string{data.AssigneeID}, ev.ActorID),
			content:    fmt.Sprintf("Task %q was assigned to you", data.Task.Title),
		}, nil

	case domain.EventTaskUpdated, domain.EventTaskStatusChanged:
		var data domain.TaskEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		content := fmt.Sprintf("Task %q was updated", data.Task.Title)
		if ev.Kind == domain.EventTaskStatusChanged {
			content = fmt.Sprintf("Task %q moved from %s to %s", data.Task.Title, data.PrevStatus, data.Task.Status)
		}
		return resolution{
			recipients: exclude(data.Task.Watchers, ev.ActorID),
			content:    content,
		}, nil

	case domain.EventTaskCommented:
		var data domain.CommentData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude(data.Task.Watchers, data.AuthorID),
			content:    fmt.Sprintf("New comment on task %q", data.Task.Title),
		}, nil

	case domain.EventTaskDeleted:
		var data domain.TaskEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude(data.Task.Watchers, ev.ActorID),
			content:    fmt.Sprintf("Task %q was deleted", data.Task.Title),
		}, nil

	case domain.EventProjectCreated:
		// The creator is the only member and also the actor.
		return resolution{}, nil

	case domain.EventProjectMemberAdded:
		var data domain.MemberEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude([]string{data.UserID, data.Project.OwnerID}, ev.ActorID),
			content:    fmt.Sprintf("%s joined project %s as %s", data.UserID, data.Project.Key, data.Role),
		}, nil

	case domain.EventProjectMemberRemoved:
		var data domain.MemberEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude([]string{data.UserID, data.Project.OwnerID}, ev.ActorID),
			content:    fmt.Sprintf("%s left project %s", data.UserID, data.Project.Key),
		}, nil

	case domain.EventProjectOwnershipTransferred:
		var data domain.MemberEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return resolution{}, err
		}
		return resolution{
			recipients: exclude([]string{data.UserID}, ev.ActorID),
			content:    fmt.Sprintf("You are now the owner of project %s", data.Project.Key),
		}, nil
	}
	return resolution{}, ErrUnknownKind
}

// exclude returns candidates without actor and without duplicates, keeping
// the original order.
func exclude(candidates []string, actor string) []string {
	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c == "" || c == actor {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
