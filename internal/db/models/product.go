package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type ProductType string

const (
	ProductBook      ProductType = "book"
	ProductDVD       ProductType = "dvd"
	ProductBoardGame ProductType = "board_game"
)

// Product is a locally known item, keyed by its 13 digit GTIN.
type Product struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	GTIN        string      `gorm:"uniqueIndex;size:13;not null" json:"gtin"`
	ProductType ProductType `gorm:"not null;default:book" json:"product_type"`

	Title           string     `json:"title"`
	Subtitle        string     `json:"subtitle,omitempty"`
	Author          string     `json:"author,omitempty"`
	Publisher       string     `json:"publisher,omitempty"`
	Description     string     `gorm:"type:text" json:"description,omitempty"`
	Pages           *int       `json:"pages,omitempty"`
	Genre           string     `json:"genre,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	Notes           string     `gorm:"type:text" json:"notes,omitempty"`
	Players         string     `json:"players,omitempty"`
	AgeRange        string     `json:"age_range,omitempty"`
	CoverImageURL   string     `json:"cover_image_url,omitempty"`
	CoverImagePath  string     `json:"cover_image_path,omitempty"`

	TBDBData datatypes.JSONType[EnrichmentState] `gorm:"column:tbdb_data" json:"tbdb_data"`

	LibraryItems []LibraryItem `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Enrichment returns the last recorded enrichment outcome.
func (p *Product) Enrichment() EnrichmentState {
	return p.TBDBData.Data()
}

// SetEnrichment replaces the recorded enrichment outcome.
func (p *Product) SetEnrichment(s EnrichmentState) {
	p.TBDBData = datatypes.NewJSONType(s)
}

// Enriched reports whether TBDB data was merged successfully.
func (p *Product) Enriched() bool {
	return p.Enrichment().Status == EnrichmentSuccess
}

// EnrichmentFailed reports whether the last attempt ended with an error.
func (p *Product) EnrichmentFailed() bool {
	return p.Enrichment().Status == EnrichmentError
}

// HasCover reports whether a cover image is already stored.
func (p *Product) HasCover() bool {
	return p.CoverImagePath != ""
}

// PlaceholderTitle reports whether the title is blank or a generated stand-in.
func (p *Product) PlaceholderTitle() bool {
	t := strings.TrimSpace(p.Title)
	return t == "" || strings.HasPrefix(t, "Unknown ") || strings.HasPrefix(t, "Product ")
}

// DisplayTitle falls back to the GTIN when no title is known.
func (p *Product) DisplayTitle() string {
	if strings.TrimSpace(p.Title) != "" {
		return p.Title
	}
	return "Product " + p.GTIN
}

type EnrichmentStatus string

const (
	EnrichmentNone                 EnrichmentStatus = ""
	EnrichmentSuccess              EnrichmentStatus = "success"
	EnrichmentError                EnrichmentStatus = "error"
	EnrichmentNotFound             EnrichmentStatus = "not_found"
	EnrichmentRateLimited          EnrichmentStatus = "rate_limited"
	EnrichmentQuotaExhausted       EnrichmentStatus = "quota_exhausted"
	EnrichmentAuthenticationFailed EnrichmentStatus = "authentication_failed"
)

// EnrichmentState is the outcome of the latest enrichment attempt. Which
// payload fields are set depends on Status; build values with the
// constructors below rather than by hand.
type EnrichmentState struct {
	Status    EnrichmentStatus `json:"status,omitempty"`
	FetchedAt *time.Time       `json:"fetched_at,omitempty"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
	RetryAt   *time.Time       `json:"retry_at,omitempty"`
	Data      datatypes.JSON   `json:"data,omitempty"`
}

func Succeeded(at time.Time, data datatypes.JSON) EnrichmentState {
	return EnrichmentState{Status: EnrichmentSuccess, FetchedAt: &at, Data: data}
}

func NotFound(at time.Time, message string) EnrichmentState {
	return EnrichmentState{Status: EnrichmentNotFound, FetchedAt: &at, Message: message}
}

func Failed(at time.Time, err error) EnrichmentState {
	return EnrichmentState{Status: EnrichmentError, FetchedAt: &at, Error: err.Error()}
}

func RateLimited(at, retryAt time.Time, message string) EnrichmentState {
	return EnrichmentState{Status: EnrichmentRateLimited, FetchedAt: &at, RetryAt: &retryAt, Message: message}
}

func QuotaExhausted(at, retryAt time.Time, message string) EnrichmentState {
	return EnrichmentState{Status: EnrichmentQuotaExhausted, FetchedAt: &at, RetryAt: &retryAt, Message: message}
}

func AuthenticationFailed(at time.Time, message string) EnrichmentState {
	return EnrichmentState{Status: EnrichmentAuthenticationFailed, FetchedAt: &at, Error: message}
}

// Library groups the copies a user owns.
type Library struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LibraryItem is one copy of a product in a library.
type LibraryItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LibraryID uint      `gorm:"index;not null" json:"library_id"`
	ProductID uint      `gorm:"index;not null" json:"product_id"`
	Condition string    `json:"condition,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
