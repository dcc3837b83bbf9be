// Package repository persists workflow run records in Postgres.
package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/skyload/skyload-api/internal/models"
)

type WorkflowRepository interface {
	Create(ctx context.Context, rec *models.WorkflowRecord) error
	Update(ctx context.Context, rec *models.WorkflowRecord) error
	Get(ctx context.Context, workflowID string) (*models.WorkflowRecord, error)
	List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error)
}

type workflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) Create(ctx context.Context, rec *models.WorkflowRecord) error {
	query := `
		INSERT INTO etl.workflow_runs (
			workflow_id, created_at, status,
			original_name, storage_locator, content_type, user_requirements
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		rec.WorkflowID, rec.Timestamp, rec.Status,
		rec.File.OriginalName, rec.File.StorageLocator, rec.File.ContentType,
		rec.UserRequirements,
	)
	if err != nil {
		return errors.Wrap(err, "insert workflow run")
	}
	return nil
}

func (r *workflowRepository) Update(ctx context.Context, rec *models.WorkflowRecord) error {
	var (
		validationStatus  string
		validationMessage string
	)
	if rec.RecordValidation != nil {
		validationStatus = rec.RecordValidation.Status
		validationMessage = rec.RecordValidation.Message
	}

	query := `
		UPDATE etl.workflow_runs SET
			status = $2,
			script_source = $3,
			script_path = $4,
			execution_success = $5,
			execution_error = $6,
			destination_error = $7,
			source_count = $8,
			destination_count = $9,
			processed_count = $10,
			validation_status = $11,
			validation_message = $12,
			updated_at = NOW()
		WHERE workflow_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		rec.WorkflowID, rec.Status, rec.ScriptSource, rec.ScriptPath,
		rec.ExecutionSuccess, rec.ExecutionError, rec.DestinationError,
		rec.SourceRecordCount, rec.DestinationActualCount, rec.ProcessedRecordCount,
		validationStatus, validationMessage,
	)
	if err != nil {
		return errors.Wrap(err, "update workflow run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update workflow run")
	}
	if n == 0 {
		return errors.Errorf("workflow %s not found", rec.WorkflowID)
	}
	return nil
}

const selectColumns = `
	workflow_id, created_at, status,
	original_name, storage_locator, content_type, user_requirements,
	script_source, script_path,
	execution_success, execution_error, destination_error,
	source_count, destination_count, processed_count,
	validation_status, validation_message`

func (r *workflowRepository) Get(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	query := `SELECT` + selectColumns + ` FROM etl.workflow_runs WHERE workflow_id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, workflowID))
	if err == sql.ErrNoRows {
		return nil, errors.Errorf("workflow %s not found", workflowID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get workflow run")
	}
	return rec, nil
}

func (r *workflowRepository) List(ctx context.Context, limit int) ([]*models.WorkflowRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + selectColumns + ` FROM etl.workflow_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list workflow runs")
	}
	defer rows.Close()

	var out []*models.WorkflowRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan workflow run")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list workflow runs")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.WorkflowRecord, error) {
	var (
		rec               models.WorkflowRecord
		scriptSource      sql.NullString
		scriptPath        sql.NullString
		executionError    sql.NullString
		destinationError  sql.NullString
		sourceCount       sql.NullInt64
		destinationCount  sql.NullInt64
		processedCount    sql.NullInt64
		validationStatus  sql.NullString
		validationMessage sql.NullString
	)

	err := row.Scan(
		&rec.WorkflowID, &rec.Timestamp, &rec.Status,
		&rec.File.OriginalName, &rec.File.StorageLocator, &rec.File.ContentType,
		&rec.UserRequirements,
		&scriptSource, &scriptPath,
		&rec.ExecutionSuccess, &executionError, &destinationError,
		&sourceCount, &destinationCount, &processedCount,
		&validationStatus, &validationMessage,
	)
	if err != nil {
		return nil, err
	}

	rec.ScriptSource = scriptSource.String
	rec.ScriptPath = scriptPath.String
	rec.ExecutionError = executionError.String
	rec.DestinationError = destinationError.String
	rec.SourceRecordCount = int(sourceCount.Int64)
	rec.DestinationActualCount = int(destinationCount.Int64)
	rec.ProcessedRecordCount = int(processedCount.Int64)

	if validationStatus.Valid && validationStatus.String != "" {
		rec.RecordValidation = &models.RecordValidation{
			Status:           validationStatus.String,
			Message:          validationMessage.String,
			SourceCount:      rec.SourceRecordCount,
			DestinationCount: rec.DestinationActualCount,
			ProcessedCount:   rec.ProcessedRecordCount,
		}
	}
	return &rec, nil
}
