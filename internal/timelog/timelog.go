// Package timelog is the append-only attendance log service. Entries are
// inserted once and never updated or deleted here.
package timelog

import (
	"context"
	"time"

	"timecard/attendance/internal/db"
	"timecard/attendance/internal/model"
)

type Service struct {
	store *db.Store
}

func New(store *db.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Append(ctx context.Context, entry model.TimeLogEntry) error {
	id, err := db.ParseUUID(entry.ID)
	if err != nil {
		return err
	}
	userID, err := db.ParseUUID(entry.UserID)
	if err != nil {
		return err
	}
	return s.store.Queries.InsertTimeLog(ctx, db.InsertTimeLogParams{
		ID:                   id,
		UserID:               userID,
		Action:               string(entry.Action),
		At:                   db.PGTime(entry.At),
		BreakDurationSeconds: db.PGInt8Ptr(entry.BreakDurationSeconds),
		CreatedAt:            db.NowPGTime(),
	})
}

func (s *Service) QueryByUser(ctx context.Context, userID string, from, to *time.Time, limit int32) ([]model.TimeLogEntry, error) {
	id, err := db.ParseUUID(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Queries.ListTimeLogsByUser(ctx, db.ListTimeLogsByUserParams{
		UserID: id,
		From:   db.PGTimePtr(from),
		To:     db.PGTimePtr(to),
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]model.TimeLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

type EntryWithUser struct {
	model.TimeLogEntry
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

func (s *Service) QueryAll(ctx context.Context, from, to *time.Time, limit int32) ([]EntryWithUser, error) {
	rows, err := s.store.Queries.ListTimeLogsWithUser(ctx, db.ListTimeLogsParams{
		From:  db.PGTimePtr(from),
		To:    db.PGTimePtr(to),
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]EntryWithUser, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, EntryWithUser{
			TimeLogEntry: toEntry(row.TimeLog),
			UserName:     row.UserName,
			UserEmail:    row.UserEmail,
		})
	}
	return entries, nil
}

func toEntry(row db.TimeLog) model.TimeLogEntry {
	entry := model.TimeLogEntry{
		ID:     db.UUIDString(row.ID),
		UserID: db.UUIDString(row.UserID),
		Action: model.Action(row.Action),
		At:     row.At.Time,
	}
	if row.BreakDurationSeconds.Valid {
		v := row.BreakDurationSeconds.Int64
		entry.BreakDurationSeconds = &v
	}
	return entry
}
