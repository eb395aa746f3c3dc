package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func reportColumns() []string {
	return []string{
		"id", "title", "description", "type_of_threat", "severity", "status",
		"organization_id", "author_id", "submitted", "broadcasted", "submitted_at",
		"collection_address", "collection_key_envelope", "anchor_hash",
	}
}

func TestGetReport(t *testing.T) {
	s, mock := mockStore(t)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(reportColumns()).AddRow(
			"r1", "Title", "Desc", "Phishing", "High", "Open",
			"orgA", "u1", true, false, at,
			"CollAddr", `{"iv":"..","data":".."}`, "AnchorHash",
		))

	r, err := s.GetReport(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if !r.Anchored() {
		t.Error("report with collection fields must report Anchored")
	}
	if r.SubmittedAt == nil || !r.SubmittedAt.Equal(at) {
		t.Errorf("submitted_at = %v, want %v", r.SubmittedAt, at)
	}
	if *r.AnchorHash != "AnchorHash" {
		t.Errorf("anchor hash = %q", *r.AnchorHash)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetReport(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetReport_Unanchored(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM reports WHERE id = \$1`).
		WithArgs("r2").
		WillReturnRows(sqlmock.NewRows(reportColumns()).AddRow(
			"r2", "Title", "Desc", "", "", "",
			"orgA", "u1", false, false, nil,
			nil, nil, nil,
		))

	r, err := s.GetReport(context.Background(), "r2")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if r.Anchored() {
		t.Error("report without collection fields must not report Anchored")
	}
}

func TestCreateLink_DuplicateMapsToSentinel(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO disclosure_links`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateLink(context.Background(), &DisclosureLink{
		ReportID:    "r1",
		SourceOrgID: "orgA",
		TargetOrgID: "orgB",
		SharedAt:    time.Now(),
		ShareIndex:  1,
	})
	if !errors.Is(err, ErrDuplicateLink) {
		t.Errorf("error = %v, want ErrDuplicateLink", err)
	}
}

func TestCreateLink_OffChainStoresNulls(t *testing.T) {
	s, mock := mockStore(t)

	at := time.Now()
	mock.ExpectExec(`INSERT INTO disclosure_links`).
		WithArgs("r1", "orgA", "orgB", at, false, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateLink(context.Background(), &DisclosureLink{
		ReportID:    "r1",
		SourceOrgID: "orgA",
		TargetOrgID: "orgB",
		SharedAt:    at,
	})
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNextShareIndex(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`(?s)UPDATE reports SET share_counter = share_counter \+ 1\s+WHERE id = \$1 RETURNING share_counter`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"share_counter"}).AddRow(3))

	next, err := s.NextShareIndex(context.Background(), "r1")
	if err != nil {
		t.Fatalf("NextShareIndex: %v", err)
	}
	if next != 3 {
		t.Errorf("next = %d, want 3", next)
	}
}

func TestNextShareIndex_MissingReport(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`(?s)UPDATE reports SET share_counter = share_counter \+ 1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.NextShareIndex(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateLinksBulk_CountsOnlyInserted(t *testing.T) {
	s, mock := mockStore(t)

	at := time.Now()
	// orgB inserted, orgC already linked (conflict, zero rows).
	mock.ExpectExec(`INSERT INTO disclosure_links`).
		WithArgs("r1", "orgA", "orgB", at, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO disclosure_links`).
		WithArgs("r1", "orgA", "orgC", at, false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.CreateLinksBulk(context.Background(), "r1", "orgA", []string{"orgB", "orgC"}, false, at)
	if err != nil {
		t.Fatalf("CreateLinksBulk: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestAcceptLink_NotFound(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(`UPDATE disclosure_links SET accepted_share = TRUE`).
		WithArgs("r1", "orgB").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AcceptLink(context.Background(), "r1", "orgB")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteNonOversightLinks(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec(`DELETE FROM disclosure_links`).
		WithArgs("r1", string(RoleGovBody)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.DeleteNonOversightLinks(context.Background(), "r1")
	if err != nil {
		t.Fatalf("DeleteNonOversightLinks: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
}

func TestListLinks_Order(t *testing.T) {
	s, mock := mockStore(t)

	cols := []string{
		"report_id", "source_org_id", "target_org_id", "shared_at",
		"accepted_share", "share_index", "share_nft_address", "share_key_envelope",
	}
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	mock.ExpectQuery(`(?s)SELECT .* FROM disclosure_links\s+WHERE report_id = \$1 ORDER BY shared_at ASC`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "orgA", "orgB", t1, false, 1, "Nft1", "env1").
			AddRow("r1", "orgA", "orgC", t2, true, nil, nil, nil))

	links, err := s.ListLinks(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("len = %d, want 2", len(links))
	}
	if links[0].ShareIndex != 1 || links[0].ShareNFTAddress != "Nft1" {
		t.Errorf("on-chain link not scanned: %+v", links[0])
	}
	if links[1].ShareIndex != 0 || links[1].ShareNFTAddress != "" {
		t.Errorf("off-chain link not scanned as zero values: %+v", links[1])
	}
}

func TestFindLinkByTarget_OldestLinkWins(t *testing.T) {
	s, mock := mockStore(t)

	cols := []string{
		"report_id", "source_org_id", "target_org_id", "shared_at",
		"accepted_share", "share_index", "share_nft_address", "share_key_envelope",
	}
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Several sources may disclose the same report to one target; the
	// query must pin which row wins.
	mock.ExpectQuery(`(?s)SELECT .* FROM disclosure_links\s+WHERE report_id = \$1 AND target_org_id = \$2\s+ORDER BY shared_at ASC LIMIT 1`).
		WithArgs("r1", "orgB").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "orgA", "orgB", t1, false, 1, "Nft1", "env1"))

	link, err := s.FindLinkByTarget(context.Background(), "r1", "orgB")
	if err != nil {
		t.Fatalf("FindLinkByTarget: %v", err)
	}
	if link.SourceOrgID != "orgA" || link.ShareIndex != 1 {
		t.Errorf("link = %+v", link)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIsOversightOrg(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("orgGov", string(RoleGovBody)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.IsOversightOrg(context.Background(), "orgGov")
	if err != nil {
		t.Fatalf("IsOversightOrg: %v", err)
	}
	if !ok {
		t.Error("expected oversight organization")
	}
}
