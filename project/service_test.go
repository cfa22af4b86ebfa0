package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"

	"trackhub/domain"
)

type fakeStore struct {
	projects map[string]domain.Project
	etags    map[string]int
	keys     map[string]string
	inserts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: map[string]domain.Project{},
		etags:    map[string]int{},
		keys:     map[string]string{},
	}
}

func (f *fakeStore) GetProject(_ context.Context, id string) (domain.Project, string, error) {
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, "", domain.ErrNotFound
	}
	return p, fmt.Sprint(f.etags[id]), nil
}

func (f *fakeStore) InsertProject(_ context.Context, p domain.Project) error {
	if _, ok := f.projects[p.ID]; ok {
		return domain.ErrDuplicateKey
	}
	f.projects[p.ID] = p
	f.etags[p.ID] = 1
	f.inserts++
	return nil
}

func (f *fakeStore) UpdateProject(_ context.Context, p domain.Project, etag string) error {
	if _, ok := f.projects[p.ID]; !ok {
		return domain.ErrNotFound
	}
	if etag != fmt.Sprint(f.etags[p.ID]) {
		return domain.ErrConflict
	}
	f.projects[p.ID] = p
	f.etags[p.ID]++
	return nil
}

func (f *fakeStore) ClaimProjectKey(_ context.Context, key, projectID string) error {
	if _, ok := f.keys[key]; ok {
		return domain.ErrDuplicateKey
	}
	f.keys[key] = projectID
	return nil
}

func (f *fakeStore) ReleaseProjectKey(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type eventSink struct {
	events []domain.Event
}

func (e *eventSink) Enqueue(events ...domain.Event) error {
	e.events = append(e.events, events...)
	return nil
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func newService(t *testing.T) (*Service, *fakeStore, *eventSink) {
	t.Helper()
	store := newFakeStore()
	sink := &eventSink{}
	return NewService(store, sink, quietLogger()), store, sink
}

func ownerCount(p domain.Project) int {
	n := 0
	for _, m := range p.Members {
		if m.Role == domain.RoleOwner {
			n++
		}
	}
	return n
}

func TestCreateSetsOwnerAndDefaults(t *testing.T) {
	svc, store, sink := newService(t)

	p, err := svc.Create(context.Background(), CreateInput{Name: "Engineering", Key: "eng"}, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Key != "ENG" {
		t.Fatalf("key = %q, want normalized ENG", p.Key)
	}
	if p.OwnerID != "u1" || p.RoleOf("u1") != domain.RoleOwner {
		t.Fatalf("owner not set: %+v", p)
	}
	if ownerCount(p) != 1 {
		t.Fatalf("owner count = %d", ownerCount(p))
	}
	if p.Status != domain.ProjectActive {
		t.Fatalf("status = %s", p.Status)
	}
	if p.Settings.TaskPrefix != "ENG" {
		t.Fatalf("task prefix = %q", p.Settings.TaskPrefix)
	}
	if store.keys["ENG"] != p.ID {
		t.Fatal("key not claimed")
	}
	if len(sink.events) != 1 || sink.events[0].Kind != domain.EventProjectCreated {
		t.Fatalf("events = %v", sink.events)
	}
}

func TestCreateDuplicateKeyWritesNothing(t *testing.T) {
	svc, store, sink := newService(t)

	if _, err := svc.Create(context.Background(), CreateInput{Name: "Ops", Key: "OPS"}, "u1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(context.Background(), CreateInput{Name: "Other ops", Key: "ops"}, "u2")
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if store.inserts != 1 {
		t.Fatalf("loser must not write a project row, inserts = %d", store.inserts)
	}
	if len(sink.events) != 1 {
		t.Fatalf("loser must emit nothing, events = %d", len(sink.events))
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	var ve domain.ValidationError
	if _, err := svc.Create(context.Background(), CreateInput{Key: "X"}, "u1"); !errors.As(err, &ve) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateInput{Name: "X"}, "u1"); !errors.As(err, &ve) {
		t.Fatalf("empty key: %v", err)
	}
}

func TestAddMemberRules(t *testing.T) {
	svc, _, sink := newService(t)
	p, _ := svc.Create(context.Background(), CreateInput{Name: "Eng", Key: "ENG"}, "u1")

	var ve domain.ValidationError
	if _, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleOwner, "u1"); !errors.As(err, &ve) {
		t.Fatalf("OWNER via addMember: %v", err)
	}

	updated, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleMember, "u1")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if updated.RoleOf("u2") != domain.RoleMember {
		t.Fatalf("role = %s", updated.RoleOf("u2"))
	}

	if _, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleMember, "u1"); !errors.Is(err, domain.ErrAlreadyMember) {
		t.Fatalf("duplicate member: %v", err)
	}

	// u2 is MEMBER, below the ADMIN bar for mutating membership.
	if _, err := svc.AddMember(context.Background(), p.ID, "u3", domain.RoleMember, "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("member adding member: %v", err)
	}

	if _, err := svc.AddMember(context.Background(), "missing", "u4", domain.RoleMember, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing project: %v", err)
	}

	last := sink.events[len(sink.events)-1]
	if last.Kind != domain.EventProjectMemberAdded {
		t.Fatalf("last event = %s", last.Kind)
	}
}

func TestRemoveMemberProtectsOwner(t *testing.T) {
	svc, store, _ := newService(t)
	p, _ := svc.Create(context.Background(), CreateInput{Name: "Eng", Key: "ENG"}, "u1")
	if _, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleAdmin, "u1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if _, err := svc.RemoveMember(context.Background(), p.ID, "u1", "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("removing owner: %v", err)
	}
	got := store.projects[p.ID]
	if len(got.Members) != 2 || ownerCount(got) != 1 {
		t.Fatalf("membership must be unchanged: %+v", got.Members)
	}

	if _, err := svc.RemoveMember(context.Background(), p.ID, "u2", "u1"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if _, err := svc.RemoveMember(context.Background(), p.ID, "u2", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("removing non-member: %v", err)
	}
}

func TestRemoveSelfAllowedForAnyRole(t *testing.T) {
	svc, _, _ := newService(t)
	p, _ := svc.Create(context.Background(), CreateInput{Name: "Eng", Key: "ENG"}, "u1")
	if _, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleViewer, "u1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	updated, err := svc.RemoveMember(context.Background(), p.ID, "u2", "u2")
	if err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if _, ok := updated.Member("u2"); ok {
		t.Fatal("u2 should be gone")
	}
}

func TestTransferOwnershipIsSingleWrite(t *testing.T) {
	svc, store, sink := newService(t)
	p, _ := svc.Create(context.Background(), CreateInput{Name: "Eng", Key: "ENG"}, "u1")
	if _, err := svc.AddMember(context.Background(), p.ID, "u2", domain.RoleMember, "u1"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	writesBefore := store.etags[p.ID]

	updated, err := svc.TransferOwnership(context.Background(), p.ID, "u2", "u1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if updated.OwnerID != "u2" || updated.RoleOf("u2") != domain.RoleOwner {
		t.Fatalf("ownership not moved: %+v", updated)
	}
	if updated.RoleOf("u1") != domain.RoleAdmin {
		t.Fatalf("previous owner role = %s, want ADMIN", updated.RoleOf("u1"))
	}
	if ownerCount(updated) != 1 {
		t.Fatalf("owner count = %d", ownerCount(updated))
	}
	if store.etags[p.ID] != writesBefore+1 {
		t.Fatalf("transfer must be one conditional write, got %d", store.etags[p.ID]-writesBefore)
	}
	last := sink.events[len(sink.events)-1]
	if last.Kind != domain.EventProjectOwnershipTransferred {
		t.Fatalf("last event = %s", last.Kind)
	}
}

func TestTransferOwnershipRequiresMemberTarget(t *testing.T) {
	svc, _, _ := newService(t)
	p, _ := svc.Create(context.Background(), CreateInput{Name: "Eng", Key: "ENG"}, "u1")

	var ve domain.ValidationError
	if _, err := svc.TransferOwnership(context.Background(), p.ID, "stranger", "u1"); !errors.As(err, &ve) {
		t.Fatalf("non-member target: %v", err)
	}
	if _, err := svc.TransferOwnership(context.Background(), p.ID, "u1", "u2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-owner actor: %v", err)
	}
}
