//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/pkg/migration"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	logger      *zap.Logger
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("storybook_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "failed to start postgres container")

	connStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	s.pool, err = pgxpool.New(s.ctx, connStr)
	require.NoError(s.T(), err)

	migrator := migration.NewMigrator(migration.Config{MigrationsPath: MigrationsPath, MigrationsFS: MigrationsFS}, s.pool)
	require.NoError(s.T(), migrator.Up(s.ctx))
	version, dirty, err := migrator.Version(s.ctx)
	require.NoError(s.T(), err)
	require.False(s.T(), dirty)
	require.EqualValues(s.T(), 1, version)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) truncate() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE stories, pages, image_jobs, exports CASCADE`)
	require.NoError(s.T(), err)
}

func (s *PostgresStoreSuite) TestContract() {
	runStoreContract(s.T(), func(t *testing.T) Store {
		s.truncate()
		return NewPostgresStore(s.pool, s.logger)
	})
}

func (s *PostgresStoreSuite) TestSettleIsConditional() {
	s.truncate()
	store := NewPostgresStore(s.pool, s.logger)
	ctx := s.ctx

	story := newTestStory()
	require.NoError(s.T(), store.CreateStory(ctx, story))
	for i := 0; i < 3; i++ {
		text, image := newTestPair(story.ID, i)
		require.NoError(s.T(), store.CreatePagePair(ctx, text, image))
	}
	_, err := store.FinalizeStory(ctx, story.ID, "GENERATING")
	require.NoError(s.T(), err)

	// Параллельные settle не должны переводить историю, у которой есть ожидающие страницы.
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			status, err := store.SettleStory(ctx, story.ID)
			if err == nil && status != "GENERATING" {
				err = fmt.Errorf("unexpected status %s", status)
			}
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(s.T(), <-errs)
	}
}
