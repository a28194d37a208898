package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"advisory-service/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var DBStatus atomic.Bool

func ConnectAndCreateDB(cfg config.PostgresConfig, log *zap.Logger) (*sqlx.DB, error) {
	defaultConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	log.Info("connecting to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("user", cfg.Username),
		zap.String("dbname", cfg.DBname))

	defaultDB, err := sql.Open("postgres", defaultConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres db: %w", err)
	}
	defer defaultDB.Close()

	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`
	err = defaultDB.QueryRow(checkQuery, cfg.DBname).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check if database exists: %w", err)
	}

	if !exists {
		createQuery := fmt.Sprintf(`CREATE DATABASE "%s"`, cfg.DBname)
		if _, err = defaultDB.Exec(createQuery); err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", cfg.DBname, err)
		}
		log.Info("database created", zap.String("dbname", cfg.DBname))
	}

	targetConnStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBname)

	db, err := sqlx.Connect("postgres", targetConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	// Schema is only bootstrapped on a fresh database; existing ones are managed by hand.
	if !exists {
		if err := executeSchema(db, log); err != nil {
			log.Warn("failed to execute schema.sql", zap.Error(err))
		}
	}

	DBStatus.Store(true)
	return db, nil
}

// executeSchema reads and executes the schema.sql file
func executeSchema(db *sqlx.DB, log *zap.Logger) error {
	schemaLocations := []string{
		"schema.sql",
		"../../../schema.sql",
		"/app/schema.sql",
		filepath.Join(os.Getenv("PWD"), "schema.sql"),
	}

	var schemaPath string
	for _, location := range schemaLocations {
		if _, err := os.Stat(location); err == nil {
			schemaPath = location
			break
		}
	}

	if schemaPath == "" {
		return fmt.Errorf("schema.sql not found in any expected locations: %v", schemaLocations)
	}

	schemaContent, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema.sql from %s: %w", schemaPath, err)
	}

	log.Info("executing schema", zap.String("path", schemaPath))

	successCount := 0
	for i, statement := range SplitStatements(string(schemaContent)) {
		if _, err := db.Exec(statement); err != nil {
			log.Warn("failed to execute schema statement",
				zap.Int("statement", i+1),
				zap.String("sql", statement[:min(100, len(statement))]),
				zap.Error(err))
			continue
		}
		successCount++
	}

	log.Info("schema execution completed", zap.Int("statements", successCount))
	return nil
}

// SplitStatements splits a schema file on semicolons, dropping blanks and comment-only chunks.
func SplitStatements(schema string) []string {
	var statements []string
	for _, chunk := range strings.Split(schema, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if statement := strings.TrimSpace(strings.Join(lines, "\n")); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}

// ConnectWithRetry keeps calling ConnectAndCreateDB until it succeeds, attempts
// run out or ctx is done. attempts <= 0 retries forever.
func ConnectWithRetry(ctx context.Context, cfg config.PostgresConfig, attempts int, wait time.Duration, log *zap.Logger) (*sqlx.DB, error) {
	for attempt := 1; ; attempt++ {
		db, err := ConnectAndCreateDB(cfg, log)
		if err == nil {
			return db, nil
		}
		if attempts > 0 && attempt >= attempts {
			return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", attempt, err)
		}
		log.Error("failed to connect to postgres, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("next_retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
