package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

type User struct {
	ID           pgtype.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       string
	BreakStartAt pgtype.Timestamptz
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type TimeLog struct {
	ID                   pgtype.UUID
	UserID               pgtype.UUID
	Action               string
	At                   pgtype.Timestamptz
	BreakDurationSeconds pgtype.Int8
	CreatedAt            pgtype.Timestamptz
}

type TimeLogWithUserRow struct {
	TimeLog
	UserName  string
	UserEmail string
}

const userColumns = `id, email, name, password_hash, role, status, break_start_at, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Status, &u.BreakStartAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	ID           pgtype.UUID
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, status, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)`,
		arg.ID, arg.Email, arg.Name, arg.PasswordHash, arg.Role, arg.Status, arg.CreatedAt, arg.UpdatedAt)
	return err
}

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
	return scanUser(row)
}

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type UpdateUserParams struct {
	ID        pgtype.UUID
	Email     string
	Name      string
	Role      string
	UpdatedAt pgtype.Timestamptz
}

func (q *Queries) UpdateUser(ctx context.Context, arg UpdateUserParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users SET email = lower($2), name = $3, role = $4, updated_at = $5
		WHERE id = $1`,
		arg.ID, arg.Email, arg.Name, arg.Role, arg.UpdatedAt)
	return err
}

type UpdateUserStatusParams struct {
	ID           pgtype.UUID
	Status       string
	BreakStartAt pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

func (q *Queries) UpdateUserStatus(ctx context.Context, arg UpdateUserStatusParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users SET status = $2, break_start_at = $3, updated_at = $4
		WHERE id = $1`,
		arg.ID, arg.Status, arg.BreakStartAt, arg.UpdatedAt)
	return err
}

type UpdateUserPasswordParams struct {
	ID           pgtype.UUID
	PasswordHash string
	UpdatedAt    pgtype.Timestamptz
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		arg.ID, arg.PasswordHash, arg.UpdatedAt)
	return err
}

func (q *Queries) DeleteUser(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// time_logs is append-only: inserts and reads only.

type InsertTimeLogParams struct {
	ID                   pgtype.UUID
	UserID               pgtype.UUID
	Action               string
	At                   pgtype.Timestamptz
	BreakDurationSeconds pgtype.Int8
	CreatedAt            pgtype.Timestamptz
}

func (q *Queries) InsertTimeLog(ctx context.Context, arg InsertTimeLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO time_logs (id, user_id, action, at, break_duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.UserID, arg.Action, arg.At, arg.BreakDurationSeconds, arg.CreatedAt)
	return err
}

const timeLogColumns = `id, user_id, action, at, break_duration_seconds, created_at`

type ListTimeLogsByUserParams struct {
	UserID pgtype.UUID
	From   pgtype.Timestamptz
	To     pgtype.Timestamptz
	Limit  int32
}

func (q *Queries) ListTimeLogsByUser(ctx context.Context, arg ListTimeLogsByUserParams) ([]TimeLog, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+timeLogColumns+` FROM time_logs
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR at >= $2)
		  AND ($3::timestamptz IS NULL OR at <= $3)
		ORDER BY at DESC
		LIMIT $4`,
		arg.UserID, arg.From, arg.To, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []TimeLog
	for rows.Next() {
		var l TimeLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.At, &l.BreakDurationSeconds, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type ListTimeLogsParams struct {
	From  pgtype.Timestamptz
	To    pgtype.Timestamptz
	Limit int32
}

func (q *Queries) ListTimeLogsWithUser(ctx context.Context, arg ListTimeLogsParams) ([]TimeLogWithUserRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT l.id, l.user_id, l.action, l.at, l.break_duration_seconds, l.created_at, u.name, u.email
		FROM time_logs l
		JOIN users u ON u.id = l.user_id
		WHERE ($1::timestamptz IS NULL OR l.at >= $1)
		  AND ($2::timestamptz IS NULL OR l.at <= $2)
		ORDER BY l.at DESC
		LIMIT $3`,
		arg.From, arg.To, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []TimeLogWithUserRow
	for rows.Next() {
		var l TimeLogWithUserRow
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.At, &l.BreakDurationSeconds, &l.CreatedAt, &l.UserName, &l.UserEmail); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
