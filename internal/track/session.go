package track

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"timecard/attendance/internal/model"
	"timecard/attendance/internal/store"
)

// Directory is the external user directory consumed by impersonation.
type Directory interface {
	FetchUser(ctx context.Context, id string) (model.Identity, error)
}

// Session is the process-wide record of who is acting, with what credential,
// and the saved original admin while impersonating. The stack is one level
// deep: Admin is either nil or the administrator who impersonated.
type Session struct {
	Identity *model.Identity
	Token    string
	Admin    *model.Identity
}

// Manager owns the Session. Every mutation computes the new state fully in
// memory and then persists, so a restore never observes half an update.
type Manager struct {
	mu    sync.Mutex
	store store.Store
	dir   Directory
	log   *slog.Logger
	cur   Session
}

func NewManager(st store.Store, dir Directory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: st, dir: dir, log: log}
}

// Restore loads a persisted session at startup. Any missing or unparsable
// required field means "no session": partial data is erased, not surfaced.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, tokenOK, err := m.store.Get(ctx, store.KeySessionToken)
	if err != nil {
		return fmt.Errorf("%w: read token: %v", ErrPersistence, err)
	}
	rawIdentity, identityOK, err := m.store.Get(ctx, store.KeySessionIdentity)
	if err != nil {
		return fmt.Errorf("%w: read identity: %v", ErrPersistence, err)
	}
	if !tokenOK || !identityOK || strings.TrimSpace(token) == "" {
		m.eraseLocked(ctx)
		return nil
	}

	var identity model.Identity
	if err := json.Unmarshal([]byte(rawIdentity), &identity); err != nil || !validShape(identity) {
		m.eraseLocked(ctx)
		return nil
	}

	var admin *model.Identity
	if rawAdmin, ok, err := m.store.Get(ctx, store.KeySessionAdmin); err == nil && ok {
		var saved model.Identity
		if json.Unmarshal([]byte(rawAdmin), &saved) != nil || !validShape(saved) || saved.Role != model.RoleAdmin {
			m.eraseLocked(ctx)
			return nil
		}
		admin = &saved
	}

	m.cur = Session{Identity: &identity, Token: token, Admin: admin}
	return nil
}

// Login replaces the session with identity and token. The identity must
// carry id, email, name and a valid role; the token must be non-empty.
func (m *Manager) Login(ctx context.Context, identity model.Identity, token string) error {
	if !validShape(identity) || strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: missing identity fields or token", ErrInvalidCredentials)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = Session{Identity: &identity, Token: token}
	return m.persistLocked(ctx)
}

// Logout clears the session, its persisted copy and the former user's
// per-day break bookkeeping.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var formerID string
	if m.cur.Identity != nil {
		formerID = m.cur.Identity.ID
	}
	m.cur = Session{}
	var warn error
	if err := m.eraseLocked(ctx); err != nil {
		warn = err
	}
	if formerID != "" {
		if err := store.DeleteWithPrefix(ctx, m.store, store.BreakStartUserPrefix(formerID)); err != nil && warn == nil {
			warn = fmt.Errorf("%w: clear break markers: %v", ErrPersistence, err)
		}
		if err := store.DeleteWithPrefix(ctx, m.store, store.BreakNotifiedUserPrefix(formerID)); err != nil && warn == nil {
			warn = fmt.Errorf("%w: clear notified markers: %v", ErrPersistence, err)
		}
	}
	return warn
}

// Impersonate switches the session to the target user, saving the current
// admin for ReturnToAdmin. One level only: an impersonated session cannot
// impersonate again. On any failure the session is left unchanged.
func (m *Manager) Impersonate(ctx context.Context, targetUserID string) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Identity == nil || m.cur.Identity.Role != model.RoleAdmin {
		return model.Identity{}, fmt.Errorf("%w: active identity is not an admin", ErrPermissionDenied)
	}
	if m.cur.Admin != nil {
		return model.Identity{}, fmt.Errorf("%w: already impersonating", ErrPermissionDenied)
	}
	target, err := m.dir.FetchUser(ctx, targetUserID)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %s", ErrTargetNotFound, targetUserID)
	}

	saved := *m.cur.Identity
	m.cur.Admin = &saved
	m.cur.Identity = &target
	if err := m.persistLocked(ctx); err != nil {
		return target, err
	}
	return target, nil
}

// ReturnToAdmin pops the saved admin back to active. With no saved admin it
// is a no-op and reports ErrPermissionDenied.
func (m *Manager) ReturnToAdmin(ctx context.Context) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Admin == nil {
		m.log.Warn("return to admin requested with no saved admin")
		return model.Identity{}, fmt.Errorf("%w: no saved admin", ErrPermissionDenied)
	}
	admin := *m.cur.Admin
	m.cur.Identity = &admin
	m.cur.Admin = nil
	if err := m.persistLocked(ctx); err != nil {
		return admin, err
	}
	return admin, nil
}

// Active returns a copy of the active identity.
func (m *Manager) Active() (model.Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Identity == nil {
		return model.Identity{}, false
	}
	return *m.cur.Identity, true
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Token
}

func (m *Manager) IsImpersonating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Admin != nil
}

// Mutate applies fn to a copy of the active identity under the session lock,
// then commits and persists it. fn errors abort the mutation unless they are
// persistence warnings, which commit and propagate as warnings.
func (m *Manager) Mutate(ctx context.Context, fn func(*model.Identity) error) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Identity == nil {
		return model.Identity{}, fmt.Errorf("%w: no active session", ErrPermissionDenied)
	}
	updated := *m.cur.Identity
	warn := fn(&updated)
	if warn != nil && !IsWarning(warn) {
		return model.Identity{}, warn
	}
	m.cur.Identity = &updated
	if err := m.persistLocked(ctx); err != nil && warn == nil {
		warn = err
	}
	return updated, warn
}

// RunSweep runs the machine's day-boundary sweep against the live session,
// holding the lock so it cannot interleave with a transition.
func (m *Manager) RunSweep(ctx context.Context, machine *Machine) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed, warn := machine.Sweep(ctx, m.cur.Identity)
	if changed {
		if err := m.persistLocked(ctx); err != nil && warn == nil {
			warn = err
		}
	}
	return changed, warn
}

func (m *Manager) persistLocked(ctx context.Context) error {
	if m.cur.Identity == nil {
		return m.eraseLocked(ctx)
	}
	rawIdentity, err := json.Marshal(m.cur.Identity)
	if err != nil {
		return fmt.Errorf("%w: marshal identity: %v", ErrPersistence, err)
	}
	var rawAdmin []byte
	if m.cur.Admin != nil {
		rawAdmin, err = json.Marshal(m.cur.Admin)
		if err != nil {
			return fmt.Errorf("%w: marshal admin: %v", ErrPersistence, err)
		}
	}

	var warn error
	if err := m.store.Set(ctx, store.KeySessionIdentity, string(rawIdentity)); err != nil {
		warn = fmt.Errorf("%w: write identity: %v", ErrPersistence, err)
	}
	if err := m.store.Set(ctx, store.KeySessionToken, m.cur.Token); err != nil && warn == nil {
		warn = fmt.Errorf("%w: write token: %v", ErrPersistence, err)
	}
	if rawAdmin != nil {
		if err := m.store.Set(ctx, store.KeySessionAdmin, string(rawAdmin)); err != nil && warn == nil {
			warn = fmt.Errorf("%w: write admin: %v", ErrPersistence, err)
		}
	} else if err := m.store.Delete(ctx, store.KeySessionAdmin); err != nil && warn == nil {
		warn = fmt.Errorf("%w: clear admin: %v", ErrPersistence, err)
	}
	if warn != nil {
		m.log.Warn("session persist failed", "err", warn)
	}
	return warn
}

func (m *Manager) eraseLocked(ctx context.Context) error {
	var warn error
	for _, key := range []string{store.KeySessionIdentity, store.KeySessionToken, store.KeySessionAdmin} {
		if err := m.store.Delete(ctx, key); err != nil && warn == nil {
			warn = fmt.Errorf("%w: erase session: %v", ErrPersistence, err)
		}
	}
	return warn
}

func validShape(id model.Identity) bool {
	return strings.TrimSpace(id.ID) != "" &&
		strings.TrimSpace(id.Email) != "" &&
		strings.TrimSpace(id.Name) != "" &&
		id.Role.Valid()
}
