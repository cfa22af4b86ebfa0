package storage

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"

	"trackhub/domain"
)

func TestMarshalTaskProjectsQueryColumns(t *testing.T) {
	task := domain.Task{
		ID:        "t1",
		ProjectID: "p1",
		Title:     "Fix bug",
		Status:    domain.StatusTodo,
		Watchers:  []string{"u1"},
		Deleted:   true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	raw, err := marshalTask(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var cols struct {
		PartitionKey string `json:"PartitionKey"`
		RowKey       string `json:"RowKey"`
		ProjectID    string `json:"ProjectID"`
		Deleted      bool   `json:"Deleted"`
	}
	if err := sonic.Unmarshal(raw, &cols); err != nil {
		t.Fatalf("unmarshal columns: %v", err)
	}
	if cols.PartitionKey != "t1" || cols.RowKey != "t1" {
		t.Fatalf("unexpected keys: %+v", cols)
	}
	if cols.ProjectID != "p1" || !cols.Deleted {
		t.Fatalf("query columns not projected: %+v", cols)
	}

	got, err := unmarshalTask(raw)
	if err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if got.Title != "Fix bug" || !got.IsWatcher("u1") {
		t.Fatalf("document did not survive the round trip: %+v", got)
	}
}

func TestUnmarshalNotificationReadColumnWins(t *testing.T) {
	n := domain.Notification{
		ID:         "n1",
		UserID:     "u1",
		Kind:       domain.EventTaskAssigned,
		Content:    "assigned",
		DeliveryID: "d1",
	}
	raw, err := marshalNotification(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Simulate a merge where only the Read column was flipped. The column
	// is authoritative over the stale document copy.
	var ent notificationEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}
	ent.Read = true
	raw, err = sonic.Marshal(ent)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}

	got, err := unmarshalNotification(raw)
	if err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if !got.Read {
		t.Fatal("Read column must override the document flag")
	}
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrDuplicateKey},
		{http.StatusPreconditionFailed, domain.ErrConflict},
	}
	for _, tc := range cases {
		err := mapError(&azcore.ResponseError{StatusCode: tc.status})
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d mapped to %v, want %v", tc.status, err, tc.want)
		}
	}

	if !domain.IsTransient(mapError(&azcore.ResponseError{StatusCode: http.StatusServiceUnavailable})) {
		t.Error("503 must map to a transient error")
	}
	if !domain.IsTransient(mapError(context.DeadlineExceeded)) {
		t.Error("deadline exceeded must map to a transient error")
	}
	var pe domain.PermanentError
	if err := mapError(&azcore.ResponseError{StatusCode: http.StatusBadRequest}); !errors.As(err, &pe) {
		t.Errorf("400 mapped to %v, want permanent", err)
	}
}

func TestSanitizeFilterValue(t *testing.T) {
	if got := sanitizeFilterValue("o'brien"); got != "o''brien" {
		t.Fatalf("sanitize = %q", got)
	}
}
