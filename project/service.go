// Package project owns the project entity lifecycle: key uniqueness,
// membership invariants and role-ordered authorization.
package project

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trackhub/domain"
)

// Store is the slice of the domain store the project service needs.
type Store interface {
	GetProject(ctx context.Context, id string) (domain.Project, string, error)
	InsertProject(ctx context.Context, p domain.Project) error
	UpdateProject(ctx context.Context, p domain.Project, etag string) error
	ClaimProjectKey(ctx context.Context, key, projectID string) error
	ReleaseProjectKey(ctx context.Context, key string) error
}

// Events accepts domain events for asynchronous publication.
type Events interface {
	Enqueue(events ...domain.Event) error
}

// Service implements the project operations.
type Service struct {
	store  Store
	events Events
	logger *log.Logger
}

// NewService wires a project service to its collaborators.
func NewService(store Store, events Events, logger *log.Logger) *Service {
	return &Service{store: store, events: events, logger: logger}
}

// CreateInput is the caller-supplied part of a new project.
type CreateInput struct {
	Name        string                  `json:"name"`
	Key         string                  `json:"key"`
	Description string                  `json:"description"`
	Settings    *domain.ProjectSettings `json:"settings"`
}

// Create validates input, claims the project key in the uniqueness table and
// persists the project with the actor as sole OWNER. A key collision fails
// with ErrDuplicateKey and writes no project row: the insert-only key claim
// is the store-level guarantee, so of two racing creators exactly one wins.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID string) (domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return domain.Project{}, domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	key := strings.ToUpper(strings.TrimSpace(input.Key))
	if key == "" {
		return domain.Project{}, domain.ValidationError{Field: "key", Reason: "must not be empty"}
	}

	now := time.Now().UTC()
	p := domain.Project{
		ID:          uuid.NewString(),
		Key:         key,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Status:      domain.ProjectActive,
		OwnerID:     actorID,
		Members: []domain.ProjectMember{
			{UserID: actorID, Role: domain.RoleOwner, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Settings != nil {
		p.Settings = *input.Settings
	}
	if p.Settings.TaskPrefix == "" {
		p.Settings.TaskPrefix = key
	}

	if err := s.store.ClaimProjectKey(ctx, key, p.ID); err != nil {
		return domain.Project{}, err
	}
	if err := s.store.InsertProject(ctx, p); err != nil {
		if relErr := s.store.ReleaseProjectKey(ctx, key); relErr != nil {
			s.logger.WithError(relErr).WithField("key", key).Error("failed to release claimed project key")
		}
		return domain.Project{}, err
	}

	if err := s.emit(domain.EventProjectCreated, p, actorID, domain.ProjectEventData{Project: p}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// AddMember adds a user to the project. OWNER cannot be granted here:
// ownership moves only through TransferOwnership so the single-owner
// invariant cannot be broken by an add.
func (s *Service) AddMember(ctx context.Context, projectID, userID string, role domain.Role, actorID string) (domain.Project, error) {
	if role == domain.RoleOwner {
		return domain.Project{}, domain.ValidationError{Field: "role", Reason: "ownership is granted via transfer only"}
	}
	if !domain.ValidRole(role) {
		return domain.Project{}, domain.ValidationError{Field: "role", Reason: "unknown value"}
	}

	p, etag, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !p.RoleOf(actorID).AtLeast(domain.RoleAdmin) {
		return domain.Project{}, domain.ErrForbidden
	}
	if _, ok := p.Member(userID); ok {
		return domain.Project{}, domain.ErrAlreadyMember
	}

	p.Members = append(p.Members, domain.ProjectMember{
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	})
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, p, etag); err != nil {
		return domain.Project{}, err
	}

	if err := s.emit(domain.EventProjectMemberAdded, p, actorID, domain.MemberEventData{Project: p, UserID: userID, Role: role}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// RemoveMember removes a user from the project. The current OWNER can never
// be removed; ownership has to be transferred first. Any member may remove
// themselves, removal of others needs ADMIN.
func (s *Service) RemoveMember(ctx context.Context, projectID, userID, actorID string) (domain.Project, error) {
	p, etag, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}

	member, ok := p.Member(userID)
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	if member.Role == domain.RoleOwner {
		return domain.Project{}, domain.ErrForbidden
	}
	if userID != actorID && !p.RoleOf(actorID).AtLeast(domain.RoleAdmin) {
		return domain.Project{}, domain.ErrForbidden
	}

	members := make([]domain.ProjectMember, 0, len(p.Members)-1)
	for _, m := range p.Members {
		if m.UserID != userID {
			members = append(members, m)
		}
	}
	p.Members = members
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, p, etag); err != nil {
		return domain.Project{}, err
	}

	if err := s.emit(domain.EventProjectMemberRemoved, p, actorID, domain.MemberEventData{Project: p, UserID: userID}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TransferOwnership demotes the current OWNER to ADMIN and promotes an
// existing member to OWNER in a single conditional write, so no observer
// ever sees zero or two owners.
func (s *Service) TransferOwnership(ctx context.Context, projectID, newOwnerID, actorID string) (domain.Project, error) {
	p, etag, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.RoleOf(actorID) != domain.RoleOwner {
		return domain.Project{}, domain.ErrForbidden
	}
	if _, ok := p.Member(newOwnerID); !ok {
		return domain.Project{}, domain.ValidationError{Field: "newOwnerId", Reason: "must already be a member"}
	}
	if newOwnerID == p.OwnerID {
		return p, nil
	}

	for i := range p.Members {
		switch p.Members[i].UserID {
		case p.OwnerID:
			p.Members[i].Role = domain.RoleAdmin
		case newOwnerID:
			p.Members[i].Role = domain.RoleOwner
		}
	}
	p.OwnerID = newOwnerID
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateProject(ctx, p, etag); err != nil {
		return domain.Project{}, err
	}

	if err := s.emit(domain.EventProjectOwnershipTransferred, p, actorID, domain.MemberEventData{Project: p, UserID: newOwnerID, Role: domain.RoleOwner}); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Get returns a project by id.
func (s *Service) Get(ctx context.Context, id string) (domain.Project, error) {
	p, _, err := s.store.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (s *Service) emit(kind domain.EventKind, p domain.Project, actorID string, payload any) error {
	ev, err := domain.NewEvent(kind, domain.EntityProject, p.ID, p.ID, actorID, payload)
	if err != nil {
		return err
	}
	if err := s.events.Enqueue(ev); err != nil {
		return domain.TransientError{Err: err}
	}
	return nil
}
