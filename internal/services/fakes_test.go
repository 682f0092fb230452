package services

import (
	"context"
	"sort"
	"sync"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/events"
)

// ----- Fake roster -----

type fakeRoster struct {
	mu      sync.Mutex
	promos  []domain.Promo
	members map[string]domain.Member

	// failures left before PromosByPhone / FindMember succeed
	transientLeft int
	lookupErr     error
	appendErr     error
	lookups       int
	memberCalls   int
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{members: map[string]domain.Member{}}
}

func (r *fakeRoster) AllPromos(ctx context.Context) ([]domain.Promo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Promo(nil), r.promos...), nil
}

func (r *fakeRoster) PromosByPhone(ctx context.Context, phone string) ([]domain.Promo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.transientLeft > 0 {
		r.transientLeft--
		return nil, domain.ErrTransient
	}
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	var out []domain.Promo
	for _, p := range r.promos {
		if p.Phone == phone {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRoster) AppendPromo(ctx context.Context, p *domain.Promo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.promos = append(r.promos, *p)
	return nil
}

func (r *fakeRoster) FindMember(ctx context.Context, phone string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberCalls++
	if r.transientLeft > 0 {
		r.transientLeft--
		return nil, domain.ErrTransient
	}
	m, ok := r.members[phone]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r *fakeRoster) appended() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.promos)
}

// ----- Fake user store -----

type fakeUsers struct {
	mu      sync.Mutex
	users   map[int64]domain.User
	getErr  map[int64]error
	setErr  error
	keysErr error
	sets    int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[int64]domain.User{}, getErr: map[int64]error{}}
}

func (f *fakeUsers) Exists(ctx context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[chatID]
	return ok, nil
}

func (f *fakeUsers) Get(ctx context.Context, chatID int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[chatID]; err != nil {
		return nil, err
	}
	u, ok := f.users[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.Notifications = append([]domain.Notification(nil), u.Notifications...)
	return &u, nil
}

func (f *fakeUsers) Set(ctx context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	cp := *u
	cp.Notifications = append([]domain.Notification(nil), u.Notifications...)
	f.users[u.ChatID] = cp
	return nil
}

func (f *fakeUsers) Delete(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, chatID)
	return nil
}

func (f *fakeUsers) Keys(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	out := make([]int64, 0, len(f.users)+len(f.getErr))
	seen := map[int64]bool{}
	for id := range f.users {
		out = append(out, id)
		seen[id] = true
	}
	for id := range f.getErr {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeUsers) notifications(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[chatID]
	return len(u.Notifications)
}

// ----- Fake reminder transport -----

type fakeReminder struct {
	mu   sync.Mutex
	sent []int64
	fail map[int64]error
}

func (f *fakeReminder) SendReminder(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[chatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, chatID)
	return nil
}

// ----- Fake event sink -----

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, ev.Type)
	return nil
}
