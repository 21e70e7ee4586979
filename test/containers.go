//go:build pg || nats

package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type DBConfig struct {
	Database string
	Host     string
	Port     int
	Username string
	Password string
}

func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.Username, c.Password, c.Host, c.Port, c.Database)
}

// RunPostgres starts a disposable PostgreSQL and returns how to reach it
func RunPostgres(t *testing.T) DBConfig {
	dbConfig := DBConfig{
		Database: "concourse",
		Username: "postgres",
		Password: "postgres",
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     dbConfig.Username,
				"POSTGRES_PASSWORD": dbConfig.Password,
				"POSTGRES_DB":       dbConfig.Database,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(context.Background()), "failed to terminate container")
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dbConfig.Host = host
	dbConfig.Port = port.Int()
	return dbConfig
}

// RunNats starts a disposable NATS server with JetStream and returns its URL
func RunNats(t *testing.T) string {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.9",
			ExposedPorts: []string{"4222/tcp", "6222/tcp", "8222/tcp"},
			Cmd:          []string{"-DV", "-js"},
			WaitingFor:   wait.ForLog("Listening for client connections on 0.0.0.0:4222"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(context.Background()), "failed to terminate container")
	})

	port, err := container.MappedPort(ctx, "4222/tcp")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}
