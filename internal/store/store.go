// Package store is the durable key-value adapter the attendance core stashes
// session and break bookkeeping in. Records are always read whole, mutated in
// memory and written back whole.
package store

import (
	"context"
	"fmt"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Key scheme. Per-user-per-day markers carry a date suffix so the day
// rollover can clear them all with one prefix enumeration.
const (
	KeySessionIdentity = "session:identity"
	KeySessionToken    = "session:token"
	KeySessionAdmin    = "session:admin"
	KeySweepLastCheck  = "sweep:last_check"

	BreakStartPrefix    = "break_start:"
	BreakNotifiedPrefix = "break_notified:"
)

const dayLayout = "2006-01-02"

func Day(t time.Time) string {
	return t.Format(dayLayout)
}

func BreakStartKey(userID string, day string) string {
	return fmt.Sprintf("%s%s:%s", BreakStartPrefix, userID, day)
}

func BreakStartUserPrefix(userID string) string {
	return fmt.Sprintf("%s%s:", BreakStartPrefix, userID)
}

func BreakNotifiedKey(userID string, day string) string {
	return fmt.Sprintf("%s%s:%s", BreakNotifiedPrefix, userID, day)
}

func BreakNotifiedUserPrefix(userID string) string {
	return fmt.Sprintf("%s%s:", BreakNotifiedPrefix, userID)
}

// DeleteWithPrefix removes every key under prefix. Returns the first error
// but keeps deleting the rest.
func DeleteWithPrefix(ctx context.Context, s Store, prefix string) error {
	keys, err := s.KeysWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
