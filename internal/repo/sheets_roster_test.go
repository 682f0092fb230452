package repo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// fakeSheets is a minimal stand-in for the Sheets v4 REST API.
type fakeSheets struct {
	mu       sync.Mutex
	promos   [][]interface{}
	members  [][]interface{}
	tabs     []string
	appended [][]interface{}
	added    []string
	status   int // non-zero forces every request to fail with this status
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":` + itoa(f.status) + `,"message":"forced"}}`))
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		f.promos = append(f.promos, vr.Values...)
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.AddSheet != nil {
				f.added = append(f.added, rq.AddSheet.Properties.Title)
				f.tabs = append(f.tabs, rq.AddSheet.Properties.Title)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1"})
	case strings.Contains(path, "/values/") && strings.Contains(path, "Promocodes"):
		_ = json.NewEncoder(w).Encode(map[string]any{"values": f.promos})
	case strings.Contains(path, "/values/"):
		_ = json.NewEncoder(w).Encode(map[string]any{"values": f.members})
	default:
		sh := make([]map[string]any, 0, len(f.tabs))
		for _, t := range f.tabs {
			sh = append(sh, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-1", "sheets": sh})
	}
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func newSheetsRoster(t *testing.T, f *fakeSheets) *SheetsRoster {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("sheets.NewService: %v", err)
	}
	return NewSheetsRoster(svc, SheetsOptions{SpreadsheetID: "sheet-1", Location: time.UTC})
}

func TestSheetsRoster_PromosByPhone_SkipsMalformedRows(t *testing.T) {
	f := &fakeSheets{promos: [][]interface{}{
		{"9991234567", "01/02/2024 10:00:00", "AAAAAAAAAA", "1 hour"},
		{"9990000000", "01/02/2024 11:00:00", "BBBBBBBBBB", "4 hours"},
		{"9991234567", "not a date", "CCCCCCCCCC", "6 hours"},
		{"9991234567", "02/02/2024 10:00:00", "short", "6 hours"},
		{"9991234567", "03/02/2024 10:00:00", "DDDDDDDDDD", "energy drink"},
	}}
	r := newSheetsRoster(t, f)

	got, err := r.PromosByPhone(context.Background(), "9991234567")
	if err != nil {
		t.Fatalf("PromosByPhone: %v", err)
	}
	if len(got) != 2 || got[0].Code != "AAAAAAAAAA" || got[1].Code != "DDDDDDDDDD" {
		t.Fatalf("unexpected rows: %+v", got)
	}
	want := time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)
	if !got[1].IssuedAt.Equal(want) {
		t.Fatalf("IssuedAt = %v; want %v (DD/MM/YYYY)", got[1].IssuedAt, want)
	}
}

func TestSheetsRoster_AppendPromo_WritesRowLayout(t *testing.T) {
	f := &fakeSheets{}
	r := newSheetsRoster(t, f)

	p := &domain.Promo{
		Phone:    "9991234567",
		Code:     "ABCDEFGHIJ",
		Award:    domain.AwardSixHours,
		IssuedAt: time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC),
	}
	if err := r.AppendPromo(context.Background(), p); err != nil {
		t.Fatalf("AppendPromo: %v", err)
	}
	if len(f.appended) != 1 {
		t.Fatalf("expected one appended row, got %d", len(f.appended))
	}
	row := f.appended[0]
	if cell(row, 0) != "9991234567" || cell(row, 1) != "31/12/2024 23:59:58" || cell(row, 2) != "ABCDEFGHIJ" || cell(row, 3) != "6 hours" {
		t.Fatalf("unexpected row: %#v", row)
	}

	// Round-trip through the read path.
	got, err := r.PromosByPhone(context.Background(), "9991234567")
	if err != nil || len(got) != 1 || !got[0].IssuedAt.Equal(p.IssuedAt) {
		t.Fatalf("readback = %+v, %v", got, err)
	}
}

func TestSheetsRoster_FindMember(t *testing.T) {
	f := &fakeSheets{members: [][]interface{}{
		{"Name", "", "", "", "", "", "Phone"},
		{"Ivan"},
		{"Anna Petrova", "", "", "", "", "", "+7 (999) 123-45-67"},
	}}
	r := newSheetsRoster(t, f)

	m, err := r.FindMember(context.Background(), "9991234567")
	if err != nil {
		t.Fatalf("FindMember: %v", err)
	}
	if m.Name != "Anna Petrova" || m.Phone != "9991234567" {
		t.Fatalf("unexpected member: %+v", m)
	}
	if _, err := r.FindMember(context.Background(), "9000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSheetsRoster_TransientErrors(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		f := &fakeSheets{status: status}
		r := newSheetsRoster(t, f)
		_, err := r.PromosByPhone(context.Background(), "9991234567")
		if !errors.Is(err, domain.ErrTransient) {
			t.Fatalf("status %d: expected ErrTransient, got %v", status, err)
		}
	}

	f := &fakeSheets{status: http.StatusForbidden}
	r := newSheetsRoster(t, f)
	_, err := r.PromosByPhone(context.Background(), "9991234567")
	if err == nil || errors.Is(err, domain.ErrTransient) {
		t.Fatalf("403 should be a permanent error, got %v", err)
	}
}

func TestSheetsRoster_EnsurePromoTab(t *testing.T) {
	f := &fakeSheets{tabs: []string{"Sheet1"}}
	r := newSheetsRoster(t, f)

	if err := r.EnsurePromoTab(context.Background()); err != nil {
		t.Fatalf("EnsurePromoTab: %v", err)
	}
	if len(f.added) != 1 || f.added[0] != "Promocodes" {
		t.Fatalf("expected Promocodes tab to be added, got %v", f.added)
	}
	// Second call is a no-op.
	if err := r.EnsurePromoTab(context.Background()); err != nil {
		t.Fatalf("EnsurePromoTab #2: %v", err)
	}
	if len(f.added) != 1 {
		t.Fatalf("tab added twice: %v", f.added)
	}
}

func TestPhoneCellMatches(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"9991234567", true},
		{"+7 999 123-45-67", true},
		{"8 (999) 123 45 67", true},
		{"1 999 123 45 67", false},
		{"999123456", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := phoneCellMatches(tc.raw, "9991234567"); got != tc.want {
			t.Fatalf("phoneCellMatches(%q) = %v; want %v", tc.raw, got, tc.want)
		}
	}
}
