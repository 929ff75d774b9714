package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/database"
)

// PostgresImage is the image used for repository and service integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	adminUser = "postgres"
	adminPass = "test_password"
	appUser   = "calls_app"
	appPass   = "app_password"
	dbName    = "calls_test"
)

// CallsDB holds the test database with migrations applied.
// DB connects as a non-owner role so row level security is enforced.
type CallsDB struct {
	Container testcontainers.Container
	DB        *database.DB
	AdminDSN  string
}

var (
	sharedCallsDB     *CallsDB
	sharedCallsDBOnce sync.Once
	sharedCallsDBErr  error
)

// GetCallsDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetCallsDB(t *testing.T) *CallsDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedCallsDBOnce.Do(func() {
		sharedCallsDB, sharedCallsDBErr = setupCallsDB()
	})

	if sharedCallsDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedCallsDBErr)
	}

	return sharedCallsDB
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func setupCallsDB() (*CallsDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     adminUser,
			"POSTGRES_PASSWORD": adminPass,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	adminDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", adminUser, adminPass, host, port.Port(), dbName)
	appDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", appUser, appPass, host, port.Port(), dbName)

	// Migrations run as the table owner; golang-migrate needs database/sql.
	sqlDB, err := database.OpenSQL(adminDSN)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	for range 10 {
		if err = sqlDB.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("database never became reachable: %w", err)
	}

	if err := database.RunMigrations(sqlDB, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	grants := []string{
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", appUser, appPass),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appUser),
	}
	for _, stmt := range grants {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare app role: %w", err)
		}
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            appDSN,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	return &CallsDB{
		Container: container,
		DB:        db,
		AdminDSN:  adminDSN,
	}, nil
}

// CreateUser inserts a user with a unique email and returns its id.
func (c *CallsDB) CreateUser(t *testing.T) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := c.DB.Exec(context.Background(),
		"INSERT INTO users (id, email, name) VALUES ($1, $2, $3)",
		id, id.String()+"@example.test", "Test User")
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return id
}

// OwnerContext returns a context bound to ownerID's row level security scope.
func (c *CallsDB) OwnerContext(t *testing.T, ownerID uuid.UUID) context.Context {
	t.Helper()

	ctx := context.Background()
	scope, err := c.DB.WithOwner(ctx, ownerID)
	if err != nil {
		t.Fatalf("failed to create owner scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetOwnerScope(ctx, scope)
}

// SystemContext returns a context with an unscoped connection.
func (c *CallsDB) SystemContext(t *testing.T) context.Context {
	t.Helper()

	ctx := context.Background()
	scope, err := c.DB.WithoutOwner(ctx)
	if err != nil {
		t.Fatalf("failed to create system scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetOwnerScope(ctx, scope)
}
