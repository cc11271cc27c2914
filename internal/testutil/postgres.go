// Package testutil starts the external services integration tests run against.
package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/multierr"
)

type Cleanup func() error

const postgresExpireSeconds = 120

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "../../")
}

// TestWithPostgres returns a pool connected to an empty database. When
// TEST_DB_URL is set (directly or through .env) that database is used,
// otherwise a throwaway postgres container is started through pool.
func TestWithPostgres(pool *dockertest.Pool) (_ *pgxpool.Pool, _ Cleanup, err error) {
	if err := godotenv.Load(filepath.Join(ProjectRoot(), ".env")); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	if testURL := os.Getenv("TEST_DB_URL"); testURL != "" {
		db, err := connect(testURL)
		if err != nil {
			return nil, nil, err
		}
		return db, func() error { db.Close(); return nil }, nil
	}

	if pool == nil {
		pool, err = dockertest.NewPool("")
		if err != nil {
			return nil, nil, fmt.Errorf("could not construct pool: %w", err)
		}
	}
	if err = pool.Client.Ping(); err != nil {
		return nil, nil, fmt.Errorf("could not connect to Docker: %w", err)
	}

	resource, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: "postgres",
			Tag:        "17-alpine",
			Env: []string{
				"POSTGRES_USER=messenger",
				"POSTGRES_PASSWORD=password",
				"POSTGRES_DB=messenger_test",
			},
		},
		func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run postgres container: %w", err)
	}

	var db *pgxpool.Pool
	cleanup := func() error {
		if db != nil {
			db.Close()
		}
		if purgeErr := pool.Purge(resource); purgeErr != nil {
			return fmt.Errorf("failed to purge postgres container: %w", purgeErr)
		}
		return nil
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, cleanup())
		}
	}()

	if err = resource.Expire(postgresExpireSeconds); err != nil {
		return nil, nil, fmt.Errorf("failed to set expire time: %w", err)
	}

	dbURL := fmt.Sprintf("postgres://messenger:password@%s/messenger_test?sslmode=disable",
		resource.GetHostPort("5432/tcp"))

	pool.MaxWait = time.Minute
	err = pool.Retry(func() error {
		var retryErr error
		db, retryErr = connect(dbURL)
		return retryErr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, cleanup, nil
}

func connect(dbURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to the postgresql database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
