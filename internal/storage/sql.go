package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// sqlStore holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and passed through bind.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger
	bind   func(string) string
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.bind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.bind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.bind(query), args...)
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// RecordDeployment records a deployment. ID and CreatedAt are filled in when empty.
func (s *sqlStore) RecordDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == "" {
		d.ID = generateID()
	}
	if d.CreatedAt == "" {
		d.CreatedAt = now()
	}
	query := `
		INSERT INTO deployments (id, run_id, network, chain_id, contract_name, address, deployer, tx_hash, gas_used,
			verified, explorer_url, verification_guid, created_at, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		d.ID, nullString(d.RunID), d.Network, d.ChainID, d.ContractName, d.Address, d.Deployer, d.TxHash, d.GasUsed,
		d.Verified, d.ExplorerURL, d.VerificationGUID, d.CreatedAt, nullString(d.VerifiedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting deployment: %w", err)
	}
	return nil
}

const deploymentColumns = `id, run_id, network, chain_id, contract_name, address, deployer, tx_hash, gas_used,
	verified, explorer_url, verification_guid, created_at, verified_at`

func scanDeployment(row interface{ Scan(...any) error }) (*Deployment, error) {
	var d Deployment
	var runID, verifiedAt sql.NullString
	err := row.Scan(
		&d.ID, &runID, &d.Network, &d.ChainID, &d.ContractName, &d.Address, &d.Deployer, &d.TxHash, &d.GasUsed,
		&d.Verified, &d.ExplorerURL, &d.VerificationGUID, &d.CreatedAt, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}
	d.RunID = runID.String
	d.VerifiedAt = verifiedAt.String
	return &d, nil
}

// GetDeployment retrieves a deployment. Address matching ignores case.
func (s *sqlStore) GetDeployment(ctx context.Context, network, address string) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE network = ? AND LOWER(address) = LOWER(?)`
	d, err := scanDeployment(s.queryRow(ctx, query, network, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting deployment: %w", err)
	}
	return d, nil
}

// ListDeployments lists deployments newest first with cursor-based pagination
func (s *sqlStore) ListDeployments(ctx context.Context, filter DeploymentFilter, pagination PaginationParams) (*PaginatedResult[Deployment], error) {
	var where []string
	var args []any

	if filter.Network != "" {
		where = append(where, "network = ?")
		args = append(args, filter.Network)
	}
	if filter.Verified != nil {
		where = append(where, "verified = ?")
		args = append(args, *filter.Verified)
	}
	if pagination.Cursor != "" {
		createdAt, id, err := decodeCursor(pagination.Cursor)
		if err != nil {
			return nil, err
		}
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, createdAt, createdAt, id)
	}

	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pagination.Limit+1)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var deployments []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(deployments) > pagination.Limit
	var nextCursor string
	if hasMore {
		deployments = deployments[:pagination.Limit]
		last := deployments[len(deployments)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return &PaginatedResult[Deployment]{
		Data:       deployments,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, nil
}

// MarkVerified flags a deployment as verified on the explorer
func (s *sqlStore) MarkVerified(ctx context.Context, id, explorerURL, guid string) error {
	res, err := s.exec(ctx,
		`UPDATE deployments SET verified = ?, explorer_url = ?, verification_guid = ?, verified_at = ? WHERE id = ?`,
		true, explorerURL, guid, now(), id,
	)
	if err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRun inserts or replaces a pipeline run
func (s *sqlStore) SaveRun(ctx context.Context, run *PipelineRun) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	ts := now()
	if run.CreatedAt == "" {
		run.CreatedAt = ts
	}
	run.UpdatedAt = ts

	query := `
		INSERT INTO pipeline_runs (id, network, main_contract, stage, message, status, transcript, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			message = excluded.message,
			status = excluded.status,
			transcript = excluded.transcript,
			updated_at = excluded.updated_at
	`
	_, err := s.exec(ctx, query,
		run.ID, run.Network, run.MainContract, run.Stage, run.Message,
		jsonText(run.Status), jsonText(run.Transcript), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving pipeline run: %w", err)
	}
	return nil
}

// GetRun retrieves a pipeline run
func (s *sqlStore) GetRun(ctx context.Context, id string) (*PipelineRun, error) {
	var run PipelineRun
	var status, transcript string
	err := s.queryRow(ctx,
		`SELECT id, network, main_contract, stage, message, status, transcript, created_at, updated_at FROM pipeline_runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Network, &run.MainContract, &run.Stage, &run.Message, &status, &transcript, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pipeline run: %w", err)
	}
	run.Status = []byte(status)
	run.Transcript = []byte(transcript)
	return &run, nil
}

// CreateAPIKey creates a new API key and returns the plaintext once
func (s *sqlStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key, err := generateAPIKey()
	if err != nil {
		return "", err
	}
	_, err = s.exec(ctx,
		"INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, ?)",
		generateID(), hashAPIKey(key), name, now(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting api key: %w", err)
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *sqlStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	err := s.queryRow(ctx,
		"SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL",
		hashAPIKey(key),
	).Scan(&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Update last used
	_, _ = s.exec(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", now(), ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *sqlStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.query(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.LastUsedAt = lastUsed.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *sqlStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL", now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonText(b []byte) string {
	if len(b) == 0 {
		return "null"
	}
	return string(b)
}
