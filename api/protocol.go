package api

import "trackhub/domain"

type addMemberRequest struct {
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
}

type transferOwnershipRequest struct {
	NewOwnerID string `json:"newOwnerId"`
}

type assignRequest struct {
	AssigneeID string `json:"assigneeId"`
}

type commentRequest struct {
	Content string `json:"content"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}
