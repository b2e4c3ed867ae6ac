package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pysugar/shelflife/internal/db"
	"github.com/pysugar/shelflife/internal/db/dbtest"
	"github.com/pysugar/shelflife/internal/db/models"
)

func TestFindOrCreateProduct(t *testing.T) {
	gdb := dbtest.Open(t)
	ctx := context.Background()

	p, created, err := db.FindOrCreateProduct(ctx, gdb, "9780441172719", db.ProductInput{Title: "Dune"})
	if err != nil {
		t.Fatalf("FindOrCreateProduct: %v", err)
	}
	if !created || p.ID == 0 || p.ProductType != models.ProductBook || p.Title != "Dune" {
		t.Fatalf("unexpected product: created=%v %+v", created, p)
	}

	again, created, err := db.FindOrCreateProduct(ctx, gdb, "9780441172719", db.ProductInput{Title: "Other"})
	if err != nil {
		t.Fatalf("FindOrCreateProduct again: %v", err)
	}
	if created || again.ID != p.ID || again.Title != "Dune" {
		t.Fatalf("expected existing product untouched, got created=%v %+v", created, again)
	}
}

func TestFindOrCreateProductRejectsBadGTIN(t *testing.T) {
	gdb := dbtest.Open(t)
	for _, gtin := range []string{"", "123", "97804411727190", "978044117271X"} {
		if _, _, err := db.FindOrCreateProduct(context.Background(), gdb, gtin, db.ProductInput{}); !errors.Is(err, db.ErrInvalidGTIN) {
			t.Fatalf("gtin %q: expected ErrInvalidGTIN, got %v", gtin, err)
		}
	}
}

func TestProductLookupNotFound(t *testing.T) {
	gdb := dbtest.Open(t)
	if _, err := db.ProductByID(context.Background(), gdb, 42); !errors.Is(err, db.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := db.ProductByGTIN(context.Background(), gdb, "9780441172719"); !errors.Is(err, db.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
