package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/renderdeck/renderdeck/internal/app/domain/appdef"
	"github.com/renderdeck/renderdeck/internal/app/domain/execution"
	"github.com/renderdeck/renderdeck/internal/app/domain/generation"
	"github.com/renderdeck/renderdeck/internal/app/domain/model"
	"github.com/renderdeck/renderdeck/internal/app/domain/user"
	"github.com/renderdeck/renderdeck/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ModelStore = (*Store)(nil)
var _ storage.AppStore = (*Store)(nil)
var _ storage.GenerationStore = (*Store)(nil)
var _ storage.ExecutionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.Name, u.Email, u.Role, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	return u, nil
}

// --- ModelStore -------------------------------------------------------------

func (s *Store) CreateModel(ctx context.Context, m model.Model) (model.Model, error) {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO models (name, slug, provider, description, thumbnail_url, result_path, thumbnail_path, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, m.Name, m.Slug, m.Provider, m.Description, m.ThumbnailURL, m.ResultPath, m.ThumbnailPath, m.Active, m.CreatedAt, m.UpdatedAt).Scan(&m.ID)
	if err != nil {
		return model.Model{}, err
	}
	return m, nil
}

func (s *Store) UpdateModel(ctx context.Context, m model.Model) (model.Model, error) {
	existing, err := s.GetModel(ctx, m.ID)
	if err != nil {
		return model.Model{}, err
	}

	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE models
		SET name = $2, slug = $3, provider = $4, description = $5, thumbnail_url = $6,
		    result_path = $7, thumbnail_path = $8, active = $9, updated_at = $10
		WHERE id = $1
	`, m.ID, m.Name, m.Slug, m.Provider, m.Description, m.ThumbnailURL, m.ResultPath, m.ThumbnailPath, m.Active, m.UpdatedAt)
	if err != nil {
		return model.Model{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return model.Model{}, sql.ErrNoRows
	}
	return m, nil
}

func (s *Store) GetModel(ctx context.Context, id int64) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, modelSelect+` WHERE id = $1`, id)
	return scanModel(row)
}

func (s *Store) GetModelBySlug(ctx context.Context, slug string) (model.Model, error) {
	row := s.db.QueryRowContext(ctx, modelSelect+` WHERE slug = $1`, slug)
	return scanModel(row)
}

func (s *Store) ListModels(ctx context.Context) ([]model.Model, error) {
	rows, err := s.db.QueryContext(ctx, modelSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

const modelSelect = `
	SELECT id, name, slug, provider, description, thumbnail_url, result_path, thumbnail_path, active, created_at, updated_at
	FROM models`

func scanModel(row rowScanner) (model.Model, error) {
	var m model.Model
	err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.Provider, &m.Description, &m.ThumbnailURL,
		&m.ResultPath, &m.ThumbnailPath, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return model.Model{}, err
	}
	return m, nil
}

// --- AppStore ---------------------------------------------------------------

func (s *Store) CreateApp(ctx context.Context, a appdef.App) (appdef.App, error) {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	stepsJSON, err := json.Marshal(a.Steps)
	if err != nil {
		return appdef.App{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO apps (name, slug, description, steps, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.Name, a.Slug, a.Description, stepsJSON, a.Active, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		return appdef.App{}, err
	}
	return a, nil
}

func (s *Store) UpdateApp(ctx context.Context, a appdef.App) (appdef.App, error) {
	existing, err := s.GetApp(ctx, a.ID)
	if err != nil {
		return appdef.App{}, err
	}

	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()

	stepsJSON, err := json.Marshal(a.Steps)
	if err != nil {
		return appdef.App{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE apps
		SET name = $2, slug = $3, description = $4, steps = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, a.ID, a.Name, a.Slug, a.Description, stepsJSON, a.Active, a.UpdatedAt)
	if err != nil {
		return appdef.App{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return appdef.App{}, sql.ErrNoRows
	}
	return a, nil
}

func (s *Store) GetApp(ctx context.Context, id int64) (appdef.App, error) {
	row := s.db.QueryRowContext(ctx, appSelect+` WHERE id = $1`, id)
	return scanApp(row)
}

func (s *Store) GetAppBySlug(ctx context.Context, slug string) (appdef.App, error) {
	row := s.db.QueryRowContext(ctx, appSelect+` WHERE slug = $1`, slug)
	return scanApp(row)
}

func (s *Store) ListApps(ctx context.Context) ([]appdef.App, error) {
	rows, err := s.db.QueryContext(ctx, appSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []appdef.App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

const appSelect = `
	SELECT id, name, slug, description, steps, active, created_at, updated_at
	FROM apps`

func scanApp(row rowScanner) (appdef.App, error) {
	var (
		a        appdef.App
		stepsRaw []byte
	)
	err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.Description, &stepsRaw, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return appdef.App{}, err
	}
	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &a.Steps); err != nil {
			return appdef.App{}, err
		}
	}
	return a, nil
}

// --- GenerationStore --------------------------------------------------------

func (s *Store) CreateGeneration(ctx context.Context, gen generation.Generation) (generation.Generation, error) {
	now := time.Now().UTC()
	gen.CreatedAt = now
	gen.UpdatedAt = now

	inputJSON, err := json.Marshal(gen.Input)
	if err != nil {
		return generation.Generation{}, err
	}
	outputJSON, err := json.Marshal(gen.Output)
	if err != nil {
		return generation.Generation{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO generations (user_id, model_id, model_slug, status, input, output, error_message, execution_id, step_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, gen.UserID, gen.ModelID, gen.ModelSlug, string(gen.Status), inputJSON, outputJSON,
		gen.ErrorMessage, gen.ExecutionID, gen.StepIndex, gen.CreatedAt, gen.UpdatedAt).Scan(&gen.ID)
	if err != nil {
		return generation.Generation{}, err
	}
	return gen, nil
}

func (s *Store) UpdateGeneration(ctx context.Context, gen generation.Generation) (generation.Generation, error) {
	existing, err := s.GetGeneration(ctx, gen.ID)
	if err != nil {
		return generation.Generation{}, err
	}

	gen.CreatedAt = existing.CreatedAt
	gen.UpdatedAt = time.Now().UTC()

	inputJSON, err := json.Marshal(gen.Input)
	if err != nil {
		return generation.Generation{}, err
	}
	outputJSON, err := json.Marshal(gen.Output)
	if err != nil {
		return generation.Generation{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE generations
		SET status = $2, input = $3, output = $4, error_message = $5, updated_at = $6
		WHERE id = $1
	`, gen.ID, string(gen.Status), inputJSON, outputJSON, gen.ErrorMessage, gen.UpdatedAt)
	if err != nil {
		return generation.Generation{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return generation.Generation{}, sql.ErrNoRows
	}
	return gen, nil
}

func (s *Store) GetGeneration(ctx context.Context, id int64) (generation.Generation, error) {
	row := s.db.QueryRowContext(ctx, generationSelect+` WHERE id = $1`, id)
	return scanGeneration(row)
}

func (s *Store) ListGenerations(ctx context.Context, userID int64, limit, offset int) ([]generation.Generation, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, generationSelect+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []generation.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, gen)
	}
	return result, rows.Err()
}

const generationSelect = `
	SELECT id, user_id, model_id, model_slug, status, input, output, error_message, execution_id, step_index, created_at, updated_at
	FROM generations`

func scanGeneration(row rowScanner) (generation.Generation, error) {
	var (
		gen       generation.Generation
		status    string
		inputRaw  []byte
		outputRaw []byte
	)
	err := row.Scan(&gen.ID, &gen.UserID, &gen.ModelID, &gen.ModelSlug, &status,
		&inputRaw, &outputRaw, &gen.ErrorMessage, &gen.ExecutionID, &gen.StepIndex,
		&gen.CreatedAt, &gen.UpdatedAt)
	if err != nil {
		return generation.Generation{}, err
	}
	gen.Status = generation.Status(status)
	if len(inputRaw) > 0 {
		if err := json.Unmarshal(inputRaw, &gen.Input); err != nil {
			return generation.Generation{}, err
		}
	}
	if len(outputRaw) > 0 {
		if err := json.Unmarshal(outputRaw, &gen.Output); err != nil {
			return generation.Generation{}, err
		}
	}
	return gen, nil
}

// --- ExecutionStore ---------------------------------------------------------

func (s *Store) CreateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error) {
	now := time.Now().UTC()
	exec.CreatedAt = now
	exec.UpdatedAt = now

	stepsJSON, err := json.Marshal(exec.Steps)
	if err != nil {
		return execution.Execution{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO executions (user_id, app_id, app_slug, current_step, status, steps, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, exec.UserID, exec.AppID, exec.AppSlug, exec.CurrentStep, string(exec.Status),
		stepsJSON, exec.ErrorMessage, exec.CreatedAt, exec.UpdatedAt).Scan(&exec.ID)
	if err != nil {
		return execution.Execution{}, err
	}
	return exec, nil
}

func (s *Store) UpdateExecution(ctx context.Context, exec execution.Execution) (execution.Execution, error) {
	existing, err := s.GetExecution(ctx, exec.ID)
	if err != nil {
		return execution.Execution{}, err
	}

	exec.CreatedAt = existing.CreatedAt
	exec.UpdatedAt = time.Now().UTC()

	stepsJSON, err := json.Marshal(exec.Steps)
	if err != nil {
		return execution.Execution{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET current_step = $2, status = $3, steps = $4, error_message = $5, updated_at = $6
		WHERE id = $1
	`, exec.ID, exec.CurrentStep, string(exec.Status), stepsJSON, exec.ErrorMessage, exec.UpdatedAt)
	if err != nil {
		return execution.Execution{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return execution.Execution{}, sql.ErrNoRows
	}
	return exec, nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (execution.Execution, error) {
	row := s.db.QueryRowContext(ctx, executionSelect+` WHERE id = $1`, id)
	return scanExecution(row)
}

func (s *Store) ListExecutions(ctx context.Context, userID int64) ([]execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, executionSelect+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []execution.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

const executionSelect = `
	SELECT id, user_id, app_id, app_slug, current_step, status, steps, error_message, created_at, updated_at
	FROM executions`

func scanExecution(row rowScanner) (execution.Execution, error) {
	var (
		exec     execution.Execution
		status   string
		stepsRaw []byte
	)
	err := row.Scan(&exec.ID, &exec.UserID, &exec.AppID, &exec.AppSlug, &exec.CurrentStep,
		&status, &stepsRaw, &exec.ErrorMessage, &exec.CreatedAt, &exec.UpdatedAt)
	if err != nil {
		return execution.Execution{}, err
	}
	exec.Status = execution.Status(status)
	if len(stepsRaw) > 0 {
		if err := json.Unmarshal(stepsRaw, &exec.Steps); err != nil {
			return execution.Execution{}, err
		}
	}
	return exec, nil
}
