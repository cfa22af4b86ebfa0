// Package api exposes the HTTP surface of the write model: project and task
// operations plus the per-user notification and preference endpoints.
package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"trackhub/domain"
	"trackhub/project"
	"trackhub/task"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, tasks Tasks, projects Projects, reader Reader, notifs Notifications, auth Authenticator) {
	e.POST("/api/projects", createProject(projects, auth))
	e.GET("/api/projects/:id", getProject(projects, auth))
	e.GET("/api/projects/:id/tasks", listTasks(reader, auth))
	e.POST("/api/projects/:id/members", addMember(projects, auth))
	e.DELETE("/api/projects/:id/members/:userId", removeMember(projects, auth))
	e.POST("/api/projects/:id/owner", transferOwnership(projects, auth))

	e.POST("/api/tasks", createTask(tasks, auth))
	e.GET("/api/tasks/:id", getTask(reader, auth))
	e.PATCH("/api/tasks/:id", updateTask(tasks, auth))
	e.DELETE("/api/tasks/:id", deleteTask(tasks, auth))
	e.POST("/api/tasks/:id/assignee", assignTask(tasks, auth))
	e.POST("/api/tasks/:id/comments", addComment(tasks, auth))

	e.GET("/api/notifications", listNotifications(notifs, auth))
	e.POST("/api/notifications/:id/read", markNotificationRead(notifs, auth))
	e.POST("/api/notifications/read-all", markAllNotificationsRead(notifs, auth))
	e.GET("/api/preferences", getPreference(notifs, auth))
	e.PUT("/api/preferences", putPreference(notifs, auth))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// actor authenticates the request and returns the verified actor id.
func actor(c echo.Context, auth Authenticator) (string, error) {
	return auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// decodeBody decodes a bounded JSON request body, rejecting unknown fields.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func createProject(projects Projects, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var input project.CreateInput
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		p, err := projects.Create(c.Request().Context(), input, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func getProject(projects Projects, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := actor(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		p, err := projects.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func addMember(projects Projects, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req addMemberRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		p, err := projects.AddMember(c.Request().Context(), c.Param("id"), req.UserID, req.Role, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func removeMember(projects Projects, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		p, err := projects.RemoveMember(c.Request().Context(), c.Param("id"), c.Param("userId"), actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func transferOwnership(projects Projects, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req transferOwnershipRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		p, err := projects.TransferOwnership(c.Request().Context(), c.Param("id"), req.NewOwnerID, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func createTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var input task.CreateInput
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		t, err := tasks.Create(c.Request().Context(), input, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func getTask(reader Reader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := actor(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		t, _, err := reader.GetTask(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func listTasks(reader Reader, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := actor(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ts, err := reader.ListTasksByProject(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: ts})
	}
}

func updateTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch task.Patch
		if err := decodeBody(c, &patch); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		t, err := tasks.Update(c.Request().Context(), c.Param("id"), patch, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := tasks.Delete(c.Request().Context(), c.Param("id"), actorID); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func assignTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req assignRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		t, err := tasks.Assign(c.Request().Context(), c.Param("id"), req.AssigneeID, actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func addComment(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req commentRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		comment, err := tasks.AddComment(c.Request().Context(), c.Param("id"), actorID, req.Content)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, comment)
	}
}

func listNotifications(notifs Notifications, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		unreadOnly := c.QueryParam("unread") == "true"
		ns, err := notifs.ListNotifications(c.Request().Context(), actorID, unreadOnly)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, notificationsResponse{Notifications: ns})
	}
}

func markNotificationRead(notifs Notifications, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := notifs.MarkNotificationRead(c.Request().Context(), actorID, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func markAllNotificationsRead(notifs Notifications, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := notifs.MarkAllNotificationsRead(c.Request().Context(), actorID); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getPreference(notifs Notifications, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		p, err := notifs.GetPreference(c.Request().Context(), actorID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, p)
	}
}

func putPreference(notifs Notifications, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actorID, err := actor(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var p domain.Preference
		if err := decodeBody(c, &p); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		// The preference belongs to the caller regardless of the body.
		p.UserID = actorID
		if err := notifs.PutPreference(c.Request().Context(), p); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
