package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"trackhub/domain"
)

// taskEntity is the table representation of a task. The full task document
// lives in Data; ProjectID and Deleted are duplicated as columns so list
// queries can filter server-side.
type taskEntity struct {
	aztables.Entity
	ProjectID string `json:"ProjectID"`
	Deleted   bool   `json:"Deleted"`
	Data      string `json:"Data"`
}

func marshalTask(t domain.Task) ([]byte, error) {
	doc, err := sonic.Marshal(t)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(taskEntity{
		Entity:    aztables.Entity{PartitionKey: t.ID, RowKey: t.ID},
		ProjectID: t.ProjectID,
		Deleted:   t.Deleted,
		Data:      string(doc),
	})
}

func unmarshalTask(raw []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if err := sonic.UnmarshalString(ent.Data, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask loads a task and its version tag. Soft-deleted tasks are still
// returned; callers decide whether deletion matters for them.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.tasks.GetEntity(ctx, id, id, nil)
	if err != nil {
		return domain.Task{}, "", mapError(err)
	}
	t, err := unmarshalTask(resp.Value)
	if err != nil {
		return domain.Task{}, "", err
	}
	return t, string(resp.ETag), nil
}

// InsertTask writes a brand-new task row. An existing row with the same id
// fails with ErrDuplicateKey.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalTask(t)
	if err != nil {
		return err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateTask replaces a task row conditionally on the version read earlier.
// A concurrent writer that got there first causes ErrConflict.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task, etag string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalTask(t)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &match,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

// ListTasksByProject returns all live tasks of a project.
func (s *Storage) ListTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	filter := fmt.Sprintf("ProjectID eq '%s' and Deleted eq false", sanitizeFilterValue(projectID))
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, raw := range resp.Entities {
			t, err := unmarshalTask(raw)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// InsertComment appends a row to the comment sub-store.
func (s *Storage) InsertComment(ctx context.Context, c domain.Comment) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	doc, err := sonic.Marshal(c)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(struct {
		aztables.Entity
		Data string `json:"Data"`
	}{
		Entity: aztables.Entity{PartitionKey: c.TaskID, RowKey: c.ID},
		Data:   string(doc),
	})
	if err != nil {
		return err
	}
	if _, err := s.comments.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}
