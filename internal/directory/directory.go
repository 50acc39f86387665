// Package directory is the user directory service: lookups for login and
// impersonation, and the account operations the admin API needs.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"timecard/attendance/internal/db"
	"timecard/attendance/internal/model"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type Service struct {
	store *db.Store
}

func New(store *db.Store) *Service {
	return &Service{store: store}
}

func (s *Service) FetchUser(ctx context.Context, id string) (model.Identity, error) {
	userID, err := db.ParseUUID(id)
	if err != nil {
		return model.Identity{}, ErrNotFound
	}
	row, err := s.store.Queries.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, err
	}
	return toIdentity(row), nil
}

// FetchCredentials looks a user up by email (case-insensitive) and returns
// the identity together with the stored password hash.
func (s *Service) FetchCredentials(ctx context.Context, email string) (model.Identity, string, error) {
	row, err := s.store.Queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, "", ErrNotFound
		}
		return model.Identity{}, "", err
	}
	return toIdentity(row), row.PasswordHash, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.Identity, error) {
	rows, err := s.store.Queries.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]model.Identity, 0, len(rows))
	for _, row := range rows {
		users = append(users, toIdentity(row))
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, name, email string, role model.Role, passwordHash string) (model.Identity, error) {
	id := uuid.New()
	err := s.store.Queries.CreateUser(ctx, db.CreateUserParams{
		ID:           db.PGUUID(id),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         string(role),
		Status:       string(model.StatusOffline),
		CreatedAt:    db.NowPGTime(),
		UpdatedAt:    db.NowPGTime(),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Identity{}, ErrEmailTaken
		}
		return model.Identity{}, err
	}
	return model.Identity{
		ID:     id.String(),
		Name:   name,
		Email:  email,
		Role:   role,
		Status: model.StatusOffline,
	}, nil
}

type UpdatePatch struct {
	Name  *string
	Email *string
	Role  *model.Role
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch UpdatePatch) (model.Identity, error) {
	current, err := s.FetchUser(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}
	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.Email != nil {
		current.Email = *patch.Email
	}
	if patch.Role != nil {
		current.Role = *patch.Role
	}
	userID, _ := db.ParseUUID(current.ID)
	err = s.store.Queries.UpdateUser(ctx, db.UpdateUserParams{
		ID:        userID,
		Email:     current.Email,
		Name:      current.Name,
		Role:      string(current.Role),
		UpdatedAt: db.NowPGTime(),
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Identity{}, ErrEmailTaken
		}
		return model.Identity{}, err
	}
	return current, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	userID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	return s.store.Queries.DeleteUser(ctx, userID)
}

// SaveStatus writes the durable copy of a user's status so directory
// listings stay in step with the state machine.
func (s *Service) SaveStatus(ctx context.Context, id string, status model.Status, breakStart *time.Time) error {
	userID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	return s.store.Queries.UpdateUserStatus(ctx, db.UpdateUserStatusParams{
		ID:           userID,
		Status:       string(status),
		BreakStartAt: db.PGTimePtr(breakStart),
		UpdatedAt:    db.NowPGTime(),
	})
}

func (s *Service) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	userID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	return s.store.Queries.UpdateUserPassword(ctx, db.UpdateUserPasswordParams{
		ID:           userID,
		PasswordHash: passwordHash,
		UpdatedAt:    db.NowPGTime(),
	})
}

func toIdentity(row db.User) model.Identity {
	identity := model.Identity{
		ID:     db.UUIDString(row.ID),
		Name:   row.Name,
		Email:  row.Email,
		Role:   model.Role(row.Role),
		Status: model.Status(row.Status),
	}
	if row.BreakStartAt.Valid {
		t := row.BreakStartAt.Time
		identity.BreakStartAt = &t
	}
	return identity
}
