package storage

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// Tables names the Azure Table Storage tables and the event queue backing
// the domain store.
type Tables struct {
	Tasks         string
	Projects      string
	ProjectKeys   string
	Comments      string
	Notifications string
	Preferences   string
	EventQueue    string
}

// Storage provides access to the durable domain store and the event queue.
type Storage struct {
	tasks         *aztables.Client
	projects      *aztables.Client
	projectKeys   *aztables.Client
	comments      *aztables.Client
	notifications *aztables.Client
	preferences   *aztables.Client
	eventQueue    *azqueue.QueueClient

	svc       *aztables.ServiceClient
	tableSet  Tables
	opTimeout time.Duration
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables Tables, opTimeout time.Duration) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, tables.EventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}

	if opTimeout <= 0 {
		opTimeout = 15 * time.Second
	}

	return &Storage{
		tasks:         svc.NewClient(tables.Tasks),
		projects:      svc.NewClient(tables.Projects),
		projectKeys:   svc.NewClient(tables.ProjectKeys),
		comments:      svc.NewClient(tables.Comments),
		notifications: svc.NewClient(tables.Notifications),
		preferences:   svc.NewClient(tables.Preferences),
		eventQueue:    eq,
		svc:           svc,
		tableSet:      tables,
		opTimeout:     opTimeout,
	}, nil
}
