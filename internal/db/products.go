package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/pysugar/shelflife/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var gtinPattern = regexp.MustCompile(`^\d{13}$`)

// ErrInvalidGTIN is returned for anything that is not exactly 13 digits.
var ErrInvalidGTIN = errors.New("invalid GTIN format")

// ErrProductNotFound is returned when no product has the requested key.
var ErrProductNotFound = errors.New("product not found")

// ProductInput seeds a product created by FindOrCreateProduct.
type ProductInput struct {
	Title       string
	Author      string
	Publisher   string
	ProductType models.ProductType
}

// ValidGTIN reports whether gtin has the 13 digit shape products are keyed by.
func ValidGTIN(gtin string) bool {
	return gtinPattern.MatchString(gtin)
}

// FindOrCreateProduct returns the product for gtin, creating it from in when
// missing. created reports whether this call inserted it.
func FindOrCreateProduct(ctx context.Context, db *gorm.DB, gtin string, in ProductInput) (p *models.Product, created bool, err error) {
	if !ValidGTIN(gtin) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidGTIN, gtin)
	}
	if in.ProductType == "" {
		in.ProductType = models.ProductBook
	}
	seed := models.Product{
		GTIN:        gtin,
		ProductType: in.ProductType,
		Title:       in.Title,
		Author:      in.Author,
		Publisher:   in.Publisher,
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gtin"}},
		DoNothing: true,
	}).Create(&seed)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create product %s: %w", gtin, res.Error)
	}
	p, err = ProductByGTIN(ctx, db, gtin)
	return p, res.RowsAffected == 1, err
}

func ProductByGTIN(ctx context.Context, db *gorm.DB, gtin string) (*models.Product, error) {
	var p models.Product
	err := db.WithContext(ctx).Where("gtin = ?", gtin).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", gtin, err)
	}
	return &p, nil
}

func ProductByID(ctx context.Context, db *gorm.DB, id uint) (*models.Product, error) {
	var p models.Product
	err := db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}
	return &p, nil
}
