package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultPostgresImage is used unless TEST_POSTGRES_IMAGE overrides it.
const DefaultPostgresImage = "postgres:16-alpine"

// PostgresContainer is a disposable PostgreSQL server for integration tests.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts PostgreSQL with an empty "eventnotify" database.
// The schema is left to the caller's migrations.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	image := os.Getenv("TEST_POSTGRES_IMAGE")
	if image == "" {
		image = DefaultPostgresImage
	}

	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase("eventnotify"),
		postgres.WithUsername("eventnotify"),
		postgres.WithPassword("eventnotify"),
		// The server restarts once after init scripts, hence two occurrences.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container %s: %w", image, err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		ConnectionString:  connStr,
	}, nil
}
