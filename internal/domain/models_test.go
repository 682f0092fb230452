package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():            "users",
		(Notification{}).TableName():    "notifications",
		(Promo{}).TableName():           "promos",
		(Member{}).TableName():          "members",
		(ProcessedUpdate{}).TableName(): "processed_updates",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Notification{}, &Promo{}, &Member{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&User{}, &Notification{}, &Promo{}, &Member{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&Promo{}, "idx_promos_phone") {
		t.Fatalf("expected index idx_promos_phone on promos")
	}
	if !m.HasIndex(&Member{}, "ux_members_phone") {
		t.Fatalf("expected unique index ux_members_phone on members")
	}

	// Deleting a user cascades to its notifications.
	u := User{ChatID: 42, Phone: "9991234567"}
	u.RecordNotification(time.Now().UTC())
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	var n int64
	db.Model(&Notification{}).Where("chat_id = ?", 42).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 notification, got %d", n)
	}
	if err := db.Delete(&User{}, "chat_id = ?", 42).Error; err != nil {
		t.Fatalf("delete user: %v", err)
	}
	db.Model(&Notification{}).Where("chat_id = ?", 42).Count(&n)
	if n != 0 {
		t.Fatalf("expected notifications to cascade, got %d", n)
	}

	// Unique phone on members.
	if err := db.Create(&Member{Name: "A", Phone: "9990000000"}).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}
	if err := db.Create(&Member{Name: "B", Phone: "9990000000"}).Error; err == nil {
		t.Fatalf("expected unique violation on duplicate member phone")
	}
}

func TestUser_NotificationHistory(t *testing.T) {
	u := &User{ChatID: 1, Phone: "9991234567"}
	if _, ok := u.LastNotification(); ok {
		t.Fatalf("empty history should report no last notification")
	}

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	u.RecordNotification(t1)
	u.RecordNotification(t2)

	if u.NotificationCount() != 2 {
		t.Fatalf("count = %d; want 2", u.NotificationCount())
	}
	last, ok := u.LastNotification()
	if !ok || !last.Equal(t2) {
		t.Fatalf("last = %v; want %v (most recent first)", last, t2)
	}
	if !u.Notifications[1].SentAt.Equal(t1) || u.Notifications[0].ChatID != 1 {
		t.Fatalf("unexpected history order: %+v", u.Notifications)
	}
}

func TestPromo_ValidityWindow(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &Promo{IssuedAt: issued}

	if got := p.ExpiresAt(DefaultPromoValidity); !got.Equal(issued.Add(72 * time.Hour)) {
		t.Fatalf("ExpiresAt = %v", got)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{issued, true},
		{issued.Add(time.Hour), true},
		{issued.Add(72*time.Hour - time.Nanosecond), true},
		{issued.Add(72 * time.Hour), false},
		{issued.Add(100 * time.Hour), false},
	}
	for _, tc := range cases {
		if got := p.ValidAt(tc.at, DefaultPromoValidity); got != tc.want {
			t.Fatalf("ValidAt(%v) = %v; want %v", tc.at, got, tc.want)
		}
	}
}

func TestDefaultAwards_SumTo100(t *testing.T) {
	total := 0
	for _, a := range DefaultAwards {
		total += a.Weight
	}
	if total != 100 {
		t.Fatalf("award weights sum to %d; want 100", total)
	}
}

func TestDateLayout(t *testing.T) {
	ts := time.Date(2024, 3, 7, 9, 5, 4, 0, time.UTC)
	if got := ts.Format(DateLayout); got != "07/03/2024 09:05:04" {
		t.Fatalf("Format = %q", got)
	}
}
