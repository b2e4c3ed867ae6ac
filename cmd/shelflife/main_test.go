package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/tbdb"
	"github.com/shopspring/decimal"
)

func TestRenderStatus(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	conn := &models.Connection{
		ClientID:     "client-1",
		ClientSecret: "secret",
		AccessToken:  "token",
		ExpiresAt:    &expires,
		Status:       models.ConnectionConnected,
		APIBaseURL:   "http://api.tbdb.test",
	}
	quota := &models.QuotaSnapshot{Remaining: 40, Limit: 100, Percentage: decimal.NewFromInt(40)}
	out := renderStatus(conn, quota, map[models.JobState]int64{models.JobPending: 3}, time.Now())

	for _, want := range []string{"Connected", "yes", "40 / 100 (40.0%)", "Jobs pending", "3", "http://api.tbdb.test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderTableRightAlign(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"a", "1"}, {"b"}}, []columnAlignment{alignLeft, alignRight})
	if !strings.Contains(out, "Name") || !strings.Contains(out, "Count") {
		t.Fatalf("missing headers:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "shelflife ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestEnrichCommandRejectsBadGTIN(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("SHELFLIFE_DB", dir+"/test.db")
	t.Setenv("SHELFLIFE_COVER_DIR", dir+"/covers")
	t.Setenv("SHELFLIFE_LOCK_DIR", dir+"/locks")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", "", "enrich", "123"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid GTIN") {
		t.Fatalf("expected invalid GTIN error, got %v", err)
	}
}

func TestRenderSearch(t *testing.T) {
	res := &tbdb.SearchResult{Data: []tbdb.Product{{GTIN: "9780000000001", Title: "Dune", Author: "Frank Herbert", ProductType: "book"}}}
	res.Meta.Page = 1
	res.Meta.Total = 12
	out := renderSearch(res)
	for _, want := range []string{"9780000000001", "Dune", "Frank Herbert", "page 1, 1 of 12 results"} {
		if !strings.Contains(out, want) {
			t.Fatalf("search output missing %q:\n%s", want, out)
		}
	}
}
