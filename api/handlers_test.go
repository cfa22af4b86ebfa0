package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"trackhub/domain"
	"trackhub/project"
	"trackhub/task"
)

type mockAuth struct{}

func (mockAuth) ActorFromAuthHeader(string) (string, error) { return "u1", nil }

type deniedAuth struct{}

func (deniedAuth) ActorFromAuthHeader(string) (string, error) {
	return "", errMissingAuthorization
}

type mockTasks struct {
	created domain.Task
	err     error

	lastInput   task.CreateInput
	lastActorID string
	lastAssign  string
}

func (m *mockTasks) Create(_ context.Context, input task.CreateInput, actorID string) (domain.Task, error) {
	m.lastInput = input
	m.lastActorID = actorID
	return m.created, m.err
}

func (m *mockTasks) Update(_ context.Context, id string, _ task.Patch, actorID string) (domain.Task, error) {
	m.lastActorID = actorID
	return m.created, m.err
}

func (m *mockTasks) Assign(_ context.Context, id, assigneeID, actorID string) (domain.Task, error) {
	m.lastAssign = assigneeID
	m.lastActorID = actorID
	return m.created, m.err
}

func (m *mockTasks) AddComment(_ context.Context, id, authorID, content string) (domain.Comment, error) {
	return domain.Comment{TaskID: id, AuthorID: authorID, Content: content}, m.err
}

func (m *mockTasks) Delete(_ context.Context, id, actorID string) error { return m.err }

type mockProjects struct {
	project domain.Project
	err     error
}

func (m *mockProjects) Create(_ context.Context, _ project.CreateInput, _ string) (domain.Project, error) {
	return m.project, m.err
}

func (m *mockProjects) Get(_ context.Context, _ string) (domain.Project, error) {
	return m.project, m.err
}

func (m *mockProjects) AddMember(_ context.Context, _, _ string, _ domain.Role, _ string) (domain.Project, error) {
	return m.project, m.err
}

func (m *mockProjects) RemoveMember(_ context.Context, _, _, _ string) (domain.Project, error) {
	return m.project, m.err
}

func (m *mockProjects) TransferOwnership(_ context.Context, _, _, _ string) (domain.Project, error) {
	return m.project, m.err
}

type mockNotifs struct {
	notifications []domain.Notification
	pref          domain.Preference
	putPref       domain.Preference
	lastUnread    bool
	err           error
}

func (m *mockNotifs) ListNotifications(_ context.Context, _ string, unreadOnly bool) ([]domain.Notification, error) {
	m.lastUnread = unreadOnly
	return m.notifications, m.err
}

func (m *mockNotifs) MarkNotificationRead(_ context.Context, _, _ string) error { return m.err }

func (m *mockNotifs) MarkAllNotificationsRead(_ context.Context, _ string) error { return m.err }

func (m *mockNotifs) GetPreference(_ context.Context, userID string) (domain.Preference, error) {
	return m.pref, m.err
}

func (m *mockNotifs) PutPreference(_ context.Context, p domain.Preference) error {
	m.putPref = p
	return m.err
}

func newRequest(method, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	return req, httptest.NewRecorder()
}

func TestCreateTaskReturnsCreated(t *testing.T) {
	e := echo.New()
	tasks := &mockTasks{created: domain.Task{ID: "t1", Title: "Fix bug", ProjectID: "p1"}}
	req, rec := newRequest(http.MethodPost, "/api/tasks", `{"projectId":"p1","title":"Fix bug"}`)
	c := e.NewContext(req, rec)

	if err := createTask(tasks, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if tasks.lastInput.Title != "Fix bug" || tasks.lastActorID != "u1" {
		t.Fatalf("input not forwarded: %+v actor=%s", tasks.lastInput, tasks.lastActorID)
	}
	var got domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "t1" {
		t.Fatalf("response task id = %s", got.ID)
	}
}

func TestCreateTaskRejectsUnknownFields(t *testing.T) {
	e := echo.New()
	tasks := &mockTasks{}
	req, rec := newRequest(http.MethodPost, "/api/tasks", `{"title":"x","bogus":true}`)
	c := e.NewContext(req, rec)

	if err := createTask(tasks, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	e := echo.New()
	req, rec := newRequest(http.MethodPost, "/api/tasks", `{"title":"x"}`)
	c := e.NewContext(req, rec)

	if err := createTask(&mockTasks{}, deniedAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: domain.ValidationError{Field: "title", Reason: "empty"}, want: http.StatusBadRequest},
		{name: "transition", err: domain.InvalidTransitionError{From: domain.StatusTodo, To: domain.StatusDone}, want: http.StatusBadRequest},
		{name: "notFound", err: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "conflict", err: domain.ErrConflict, want: http.StatusConflict},
		{name: "duplicateKey", err: domain.ErrDuplicateKey, want: http.StatusConflict},
		{name: "forbidden", err: domain.ErrForbidden, want: http.StatusForbidden},
		{name: "transient", err: domain.TransientError{Err: context.DeadlineExceeded}, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			tasks := &mockTasks{err: tc.err}
			req, rec := newRequest(http.MethodPost, "/api/tasks", `{"title":"x"}`)
			c := e.NewContext(req, rec)

			if err := createTask(tasks, mockAuth{})(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAssignTaskForwardsAssignee(t *testing.T) {
	e := echo.New()
	tasks := &mockTasks{created: domain.Task{ID: "t1", AssigneeID: "u2"}}
	req, rec := newRequest(http.MethodPost, "/api/tasks/t1/assignee", `{"assigneeId":"u2"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("t1")

	if err := assignTask(tasks, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if tasks.lastAssign != "u2" {
		t.Fatalf("assignee = %s, want u2", tasks.lastAssign)
	}
}

func TestListNotificationsUnreadFilter(t *testing.T) {
	e := echo.New()
	notifs := &mockNotifs{notifications: []domain.Notification{{ID: "n1", UserID: "u1"}}}
	req, rec := newRequest(http.MethodGet, "/api/notifications?unread=true", "")
	c := e.NewContext(req, rec)

	if err := listNotifications(notifs, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !notifs.lastUnread {
		t.Fatal("unread filter not forwarded")
	}
	var resp notificationsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Notifications) != 1 || resp.Notifications[0].ID != "n1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPutPreferenceOwnsCallerID(t *testing.T) {
	e := echo.New()
	notifs := &mockNotifs{}
	req, rec := newRequest(http.MethodPut, "/api/preferences", `{"userId":"someone-else","channels":{"email":true}}`)
	c := e.NewContext(req, rec)

	if err := putPreference(notifs, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if notifs.putPref.UserID != "u1" {
		t.Fatalf("preference user = %s, want caller u1", notifs.putPref.UserID)
	}
}

func TestTransferOwnershipRoute(t *testing.T) {
	e := echo.New()
	projects := &mockProjects{project: domain.Project{ID: "p1", OwnerID: "u2"}}
	req, rec := newRequest(http.MethodPost, "/api/projects/p1/owner", `{"newOwnerId":"u2"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if err := transferOwnership(projects, mockAuth{})(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got domain.Project
	if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.OwnerID != "u2" {
		t.Fatalf("owner = %s, want u2", got.OwnerID)
	}
}
