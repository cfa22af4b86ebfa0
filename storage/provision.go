package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// EnsureProvisioned creates every table and the event queue if they do not
// exist yet. Safe to run on every startup.
func (s *Storage) EnsureProvisioned(ctx context.Context) error {
	names := []string{
		s.tableSet.Tasks,
		s.tableSet.Projects,
		s.tableSet.ProjectKeys,
		s.tableSet.Comments,
		s.tableSet.Notifications,
		s.tableSet.Preferences,
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := s.svc.NewClient(name)
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}

	if _, err := s.eventQueue.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}
