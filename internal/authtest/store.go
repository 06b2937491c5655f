// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimbusid/authapi/internal/auth"
	"github.com/nimbusid/authapi/internal/ids"
)

// Operation names accepted by FailOn.
const (
	OpPrincipalCreate    = "principals.create"
	OpPrincipalUpdate    = "principals.update"
	OpPrincipalFind      = "principals.find"
	OpProfileCreate      = "profiles.create"
	OpAuthEventAppend    = "auth_events.append"
	OpNotificationAppend = "notifications.append"
	OpCommit             = "commit"
)

type data struct {
	principals    map[auth.Kind]map[string]auth.Principal
	profiles      map[string]auth.Profile
	permissions   map[string]auth.Permission
	grants        map[string]map[string]bool
	events        map[auth.Kind][]auth.AuthEvent
	notifications map[auth.Kind][]auth.NotificationRecord
}

func newData() *data {
	return &data{
		principals:    map[auth.Kind]map[string]auth.Principal{auth.KindUser: {}, auth.KindAdmin: {}},
		profiles:      map[string]auth.Profile{},
		permissions:   map[string]auth.Permission{},
		grants:        map[string]map[string]bool{},
		events:        map[auth.Kind][]auth.AuthEvent{},
		notifications: map[auth.Kind][]auth.NotificationRecord{},
	}
}

func (d *data) clone() *data {
	c := newData()
	for kind, m := range d.principals {
		c.principals[kind] = make(map[string]auth.Principal, len(m))
		for id, p := range m {
			c.principals[kind][id] = p
		}
	}
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.permissions {
		c.permissions[k] = v
	}
	for u, g := range d.grants {
		c.grants[u] = make(map[string]bool, len(g))
		for k, v := range g {
			c.grants[u][k] = v
		}
	}
	for k, v := range d.events {
		c.events[k] = append([]auth.AuthEvent(nil), v...)
	}
	for k, v := range d.notifications {
		c.notifications[k] = append([]auth.NotificationRecord(nil), v...)
	}
	return c
}

type shared struct {
	mu    sync.Mutex
	data  *data
	fails map[string]error
	now   func() time.Time
}

// Store is an in-memory auth.Store. Transactions work on a copy that replaces
// the committed state only when the callback succeeds. Transactions are
// serialized; inside one, use only the store passed to the callback.
type Store struct {
	sh   *shared
	tx   *data
	held bool
}

var _ auth.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sh: &shared{data: newData(), fails: map[string]error{}, now: time.Now}}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(fn func() time.Time) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.now = fn
}

// FailOn makes op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if err == nil {
		delete(s.sh.fails, op)
		return
	}
	s.sh.fails[op] = err
}

// do runs fn against the transaction copy, or against committed state under the lock.
func (s *Store) do(op string, fn func(d *data) error) error {
	if s.held {
		if err := s.sh.fails[op]; err != nil {
			return err
		}
		return fn(s.tx)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if err := s.sh.fails[op]; err != nil {
		return err
	}
	return fn(s.sh.data)
}

// RunInTx implements auth.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx auth.Store) error) error {
	if s.held {
		return fn(ctx, s)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	tx := &Store{sh: s.sh, tx: s.sh.data.clone(), held: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.sh.fails[OpCommit]; err != nil {
		return err
	}
	s.sh.data = tx.tx
	return nil
}

func (s *Store) Principals() auth.PrincipalStore       { return principals{s} }
func (s *Store) Profiles() auth.ProfileStore           { return profiles{s} }
func (s *Store) Permissions() auth.PermissionStore     { return permissions{s} }
func (s *Store) AuthEvents() auth.AuthEventStore       { return events{s} }
func (s *Store) Notifications() auth.NotificationStore { return notifications{s} }

type principals struct{ s *Store }

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (p principals) Create(_ context.Context, pr *auth.Principal) error {
	return p.s.do(OpPrincipalCreate, func(d *data) error {
		m, ok := d.principals[pr.Kind]
		if !ok {
			return fmt.Errorf("authtest: unknown kind %q", pr.Kind)
		}
		pr.Email = normalize(pr.Email)
		for _, existing := range m {
			if existing.Email == pr.Email {
				return auth.ErrAlreadyExists
			}
		}
		if pr.ID == "" {
			pr.ID = ids.New()
		}
		now := p.s.sh.now().UTC()
		pr.CreatedAt, pr.UpdatedAt = now, now
		m[pr.ID] = *pr
		return nil
	})
}

func (p principals) Find(_ context.Context, kind auth.Kind, id string) (*auth.Principal, error) {
	var out *auth.Principal
	err := p.s.do(OpPrincipalFind, func(d *data) error {
		pr, ok := d.principals[kind][id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &pr
		return nil
	})
	return out, err
}

func (p principals) FindByEmail(_ context.Context, kind auth.Kind, email string) (*auth.Principal, error) {
	var out *auth.Principal
	err := p.s.do(OpPrincipalFind, func(d *data) error {
		email = normalize(email)
		for _, pr := range d.principals[kind] {
			if pr.Email == email {
				pr := pr
				out = &pr
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (p principals) EmailTaken(ctx context.Context, kind auth.Kind, email string) (bool, error) {
	_, err := p.FindByEmail(ctx, kind, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, auth.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p principals) Update(_ context.Context, kind auth.Kind, id string, f auth.PrincipalUpdate) error {
	return p.s.do(OpPrincipalUpdate, func(d *data) error {
		pr, ok := d.principals[kind][id]
		if !ok {
			return auth.ErrNotFound
		}
		if f.Name != nil {
			pr.Name = *f.Name
		}
		if f.Status != nil {
			pr.Status = *f.Status
		}
		if f.LastLoginAt != nil {
			t := *f.LastLoginAt
			pr.LastLoginAt = &t
		}
		if f.LastLoginIP != nil {
			pr.LastLoginIP = *f.LastLoginIP
		}
		pr.UpdatedAt = p.s.sh.now().UTC()
		d.principals[kind][id] = pr
		return nil
	})
}

func (p principals) Upsert(_ context.Context, pr *auth.Principal) error {
	return p.s.do(OpPrincipalCreate, func(d *data) error {
		m, ok := d.principals[pr.Kind]
		if !ok {
			return fmt.Errorf("authtest: unknown kind %q", pr.Kind)
		}
		pr.Email = normalize(pr.Email)
		now := p.s.sh.now().UTC()
		for id, existing := range m {
			if existing.Email == pr.Email {
				pr.ID, pr.CreatedAt, pr.UpdatedAt = id, existing.CreatedAt, now
				m[id] = *pr
				return nil
			}
		}
		if pr.ID == "" {
			pr.ID = ids.New()
		}
		pr.CreatedAt, pr.UpdatedAt = now, now
		m[pr.ID] = *pr
		return nil
	})
}

type profiles struct{ s *Store }

func (p profiles) Create(_ context.Context, pr *auth.Profile) error {
	return p.s.do(OpProfileCreate, func(d *data) error {
		if _, ok := d.profiles[pr.UserID]; ok {
			return auth.ErrAlreadyExists
		}
		if pr.Language == "" {
			pr.Language = "en"
		}
		now := p.s.sh.now().UTC()
		pr.CreatedAt, pr.UpdatedAt = now, now
		d.profiles[pr.UserID] = *pr
		return nil
	})
}

func (p profiles) FindByUser(_ context.Context, userID string) (*auth.Profile, error) {
	var out *auth.Profile
	err := p.s.do("profiles.find", func(d *data) error {
		pr, ok := d.profiles[userID]
		if !ok {
			return auth.ErrNotFound
		}
		out = &pr
		return nil
	})
	return out, err
}

type permissions struct{ s *Store }

func (p permissions) Ensure(_ context.Context, perms []auth.Permission) error {
	return p.s.do("permissions.ensure", func(d *data) error {
		for _, perm := range perms {
			if existing, ok := d.permissions[perm.Key]; ok {
				existing.Description = perm.Description
				d.permissions[perm.Key] = existing
				continue
			}
			if perm.ID == "" {
				perm.ID = ids.New()
			}
			d.permissions[perm.Key] = perm
		}
		return nil
	})
}

func (p permissions) Grant(_ context.Context, userID, key string, enabled bool) error {
	return p.s.do("permissions.grant", func(d *data) error {
		if _, ok := d.permissions[key]; !ok {
			return auth.ErrNotFound
		}
		if d.grants[userID] == nil {
			d.grants[userID] = map[string]bool{}
		}
		d.grants[userID][key] = enabled
		return nil
	})
}

// SetPermissionEnabled toggles the catalog-level flag.
func (s *Store) SetPermissionEnabled(key string, enabled bool) {
	_ = s.do("permissions.toggle", func(d *data) error {
		if perm, ok := d.permissions[key]; ok {
			perm.Enabled = enabled
			d.permissions[key] = perm
		}
		return nil
	})
}

func (p permissions) Has(_ context.Context, userID, key string) (bool, error) {
	var ok bool
	err := p.s.do("permissions.has", func(d *data) error {
		ok = d.grants[userID][key] && d.permissions[key].Enabled
		return nil
	})
	return ok, err
}

func (p permissions) EnabledKeys(_ context.Context, userID string) ([]string, error) {
	var keys []string
	err := p.s.do("permissions.keys", func(d *data) error {
		for key, enabled := range d.grants[userID] {
			if enabled && d.permissions[key].Enabled {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		return nil
	})
	return keys, err
}

type events struct{ s *Store }

func (e events) Append(_ context.Context, kind auth.Kind, ev *auth.AuthEvent) error {
	return e.s.do(OpAuthEventAppend, func(d *data) error {
		if ev.ID == "" {
			ev.ID = ids.New()
		}
		d.events[kind] = append(d.events[kind], *ev)
		return nil
	})
}

type notifications struct{ s *Store }

func (n notifications) Append(_ context.Context, kind auth.Kind, rec *auth.NotificationRecord) error {
	return n.s.do(OpNotificationAppend, func(d *data) error {
		if rec.ID == "" {
			rec.ID = ids.New()
		}
		d.notifications[kind] = append(d.notifications[kind], *rec)
		return nil
	})
}

// AddPrincipal stores p directly, bypassing failure injection.
func (s *Store) AddPrincipal(p auth.Principal) auth.Principal {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	p.Email = normalize(p.Email)
	if p.ID == "" {
		p.ID = ids.New()
	}
	s.sh.data.principals[p.Kind][p.ID] = p
	return p
}

// PrincipalList returns committed principals of kind ordered by email.
func (s *Store) PrincipalList(kind auth.Kind) []auth.Principal {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	out := make([]auth.Principal, 0, len(s.sh.data.principals[kind]))
	for _, p := range s.sh.data.principals[kind] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// ProfileCount returns the number of committed profiles.
func (s *Store) ProfileCount() int {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return len(s.sh.data.profiles)
}

// Events returns committed auth events of kind in append order.
func (s *Store) Events(kind auth.Kind) []auth.AuthEvent {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return append([]auth.AuthEvent(nil), s.sh.data.events[kind]...)
}

// NotificationRecords returns committed notification records of kind in append order.
func (s *Store) NotificationRecords(kind auth.Kind) []auth.NotificationRecord {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return append([]auth.NotificationRecord(nil), s.sh.data.notifications[kind]...)
}
