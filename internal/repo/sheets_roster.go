// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file provides the Google Sheets roster: a members tab
// searched by phone and a promo tab used as an append-only issuance log with
// rows of [phone, DD/MM/YYYY HH:MM:SS, code, award].
package repo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// SheetsOptions locates the roster inside a spreadsheet.
type SheetsOptions struct {
	SpreadsheetID string
	MembersTab    string
	PromoTab      string
	PhoneColumn   int // 1-based column holding member phones
	NameColumn    int // 1-based column holding member names
	Location      *time.Location
}

// SheetsRoster is the Google Sheets roster store.
type SheetsRoster struct {
	values   *sheets.SpreadsheetsValuesService
	sheets   *sheets.SpreadsheetsService
	opts     SheetsOptions
	validate *validator.Validate
}

// NewSheetsService builds an authenticated Sheets client from a service
// account key file.
func NewSheetsService(ctx context.Context, credentialsFile string) (*sheets.Service, error) {
	return sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

// NewSheetsRoster wraps svc. Zero-valued options fall back to the Sheet1 / Promocodes
// layout with phones in column G and names in column A.
func NewSheetsRoster(svc *sheets.Service, opts SheetsOptions) *SheetsRoster {
	if opts.MembersTab == "" {
		opts.MembersTab = "Sheet1"
	}
	if opts.PromoTab == "" {
		opts.PromoTab = "Promocodes"
	}
	if opts.PhoneColumn <= 0 {
		opts.PhoneColumn = 7
	}
	if opts.NameColumn <= 0 {
		opts.NameColumn = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &SheetsRoster{
		values:   svc.Spreadsheets.Values,
		sheets:   svc.Spreadsheets,
		opts:     opts,
		validate: validator.New(),
	}
}

// EnsurePromoTab creates the promo tab when the spreadsheet does not have it.
func (s *SheetsRoster) EnsurePromoTab(ctx context.Context) error {
	ss, err := s.sheets.Get(s.opts.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return classifySheetsError(err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.opts.PromoTab {
			return nil
		}
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: s.opts.PromoTab},
			},
		}},
	}
	if _, err := s.sheets.BatchUpdate(s.opts.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return classifySheetsError(err)
	}
	log.Info().Str("tab", s.opts.PromoTab).Msg("created promo tab")
	return nil
}

// AllPromos returns every well-formed promo row in sheet order.
func (s *SheetsRoster) AllPromos(ctx context.Context) ([]domain.Promo, error) {
	resp, err := s.values.Get(s.opts.SpreadsheetID, s.promoRange()).Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsError(err)
	}
	out := make([]domain.Promo, 0, len(resp.Values))
	for i, row := range resp.Values {
		p, err := s.parsePromoRow(row)
		if err != nil {
			log.Warn().Err(err).Int("row", i+1).Str("tab", s.opts.PromoTab).Msg("skipping malformed promo row")
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// PromosByPhone returns the rows whose phone column equals phone, in sheet order.
func (s *SheetsRoster) PromosByPhone(ctx context.Context, phone string) ([]domain.Promo, error) {
	all, err := s.AllPromos(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Phone == phone {
			out = append(out, p)
		}
	}
	return out, nil
}

// AppendPromo appends [phone, date, code, award] to the promo tab.
func (s *SheetsRoster) AppendPromo(ctx context.Context, p *domain.Promo) error {
	vr := &sheets.ValueRange{
		Values: [][]interface{}{{
			p.Phone,
			p.IssuedAt.In(s.opts.Location).Format(domain.DateLayout),
			p.Code,
			p.Award,
		}},
	}
	_, err := s.values.Append(s.opts.SpreadsheetID, s.promoRange(), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return classifySheetsError(err)
}

// FindMember scans the members tab for a phone cell matching phone. Cells
// may hold formatted numbers such as "+7 (999) 123-45-67".
func (s *SheetsRoster) FindMember(ctx context.Context, phone string) (*domain.Member, error) {
	resp, err := s.values.Get(s.opts.SpreadsheetID, quoteTab(s.opts.MembersTab)).Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsError(err)
	}
	pi, ni := s.opts.PhoneColumn-1, s.opts.NameColumn-1
	for _, row := range resp.Values {
		if pi >= len(row) {
			continue
		}
		if !phoneCellMatches(cell(row, pi), phone) {
			continue
		}
		return &domain.Member{Name: strings.TrimSpace(cell(row, ni)), Phone: phone}, nil
	}
	return nil, ErrNotFound
}

func (s *SheetsRoster) promoRange() string {
	return quoteTab(s.opts.PromoTab) + "!A:D"
}

func (s *SheetsRoster) parsePromoRow(row []interface{}) (*domain.Promo, error) {
	if len(row) < 4 {
		return nil, fmt.Errorf("expected 4 columns, got %d", len(row))
	}
	issued, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(cell(row, 1)), s.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	p := &domain.Promo{
		Phone:    strings.TrimSpace(cell(row, 0)),
		IssuedAt: issued.UTC(),
		Code:     strings.TrimSpace(cell(row, 2)),
		Award:    strings.TrimSpace(cell(row, 3)),
	}
	if err := s.validate.Struct(p); err != nil {
		return nil, err
	}
	return p, nil
}

func cell(row []interface{}, i int) string {
	if i < 0 || i >= len(row) || row[i] == nil {
		return ""
	}
	return fmt.Sprint(row[i])
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// phoneCellMatches compares the digits of a roster cell with a normalized
// 10-digit phone, accepting an optional leading 7 or 8 country/trunk prefix.
func phoneCellMatches(raw, phone string) bool {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case d == "":
		return false
	case d == phone:
		return true
	case len(d) == len(phone)+1 && (d[0] == '7' || d[0] == '8'):
		return d[1:] == phone
	}
	return false
}

// classifySheetsError marks throttling, server-side and network failures as
// transient so callers can retry them.
func classifySheetsError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}
