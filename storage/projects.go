package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"trackhub/domain"
)

type projectEntity struct {
	aztables.Entity
	Key  string `json:"Key"`
	Data string `json:"Data"`
}

// keyEntity claims a project key in the uniqueness table. The insert-only
// write is the store-level guarantee behind the globally-unique-key
// invariant; the service-level pre-check is only an optimization.
type keyEntity struct {
	aztables.Entity
	ProjectID string `json:"ProjectID"`
}

func marshalProject(p domain.Project) ([]byte, error) {
	doc, err := sonic.Marshal(p)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(projectEntity{
		Entity: aztables.Entity{PartitionKey: p.ID, RowKey: p.ID},
		Key:    p.Key,
		Data:   string(doc),
	})
}

func unmarshalProject(raw []byte) (domain.Project, error) {
	var ent projectEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	if err := sonic.UnmarshalString(ent.Data, &p); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject loads a project and its version tag.
func (s *Storage) GetProject(ctx context.Context, id string) (domain.Project, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	resp, err := s.projects.GetEntity(ctx, id, id, nil)
	if err != nil {
		return domain.Project{}, "", mapError(err)
	}
	p, err := unmarshalProject(resp.Value)
	if err != nil {
		return domain.Project{}, "", err
	}
	return p, string(resp.ETag), nil
}

// ClaimProjectKey reserves a project key. Exactly one concurrent claimer
// succeeds; the rest receive ErrDuplicateKey.
func (s *Storage) ClaimProjectKey(ctx context.Context, key, projectID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	norm := normalizeKey(key)
	payload, err := sonic.Marshal(keyEntity{
		Entity:    aztables.Entity{PartitionKey: norm, RowKey: norm},
		ProjectID: projectID,
	})
	if err != nil {
		return err
	}
	if _, err := s.projectKeys.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// ReleaseProjectKey frees a claimed key when the project write that should
// have followed it failed.
func (s *Storage) ReleaseProjectKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	norm := normalizeKey(key)
	if _, err := s.projectKeys.DeleteEntity(ctx, norm, norm, nil); err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

// InsertProject writes a brand-new project row.
func (s *Storage) InsertProject(ctx context.Context, p domain.Project) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalProject(p)
	if err != nil {
		return err
	}
	if _, err := s.projects.AddEntity(ctx, payload, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// UpdateProject replaces a project row conditionally on its version tag.
// Membership changes go through here, so the single-owner invariant always
// flips in one conditional write.
func (s *Storage) UpdateProject(ctx context.Context, p domain.Project, etag string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	payload, err := marshalProject(p)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	_, err = s.projects.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &match,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// sanitizeFilterValue escapes single quotes for OData filter literals.
func sanitizeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
