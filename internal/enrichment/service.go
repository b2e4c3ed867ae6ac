// Package enrichment merges TBDB metadata into local products.
package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/shelflife/internal/broadcast"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/tbdb"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const notFoundMessage = "Product not found in TBDB database"

// ProductFetcher is the part of the TBDB client enrichment uses.
type ProductFetcher interface {
	GetProduct(ctx context.Context, id string) (*tbdb.Product, error)
}

// ClientSource yields a ready client. Construction itself can fail with
// the tbdb error taxonomy.
type ClientSource func(ctx context.Context) (ProductFetcher, error)

// FromProvider adapts a ClientProvider.
func FromProvider(p *tbdb.ClientProvider) ClientSource {
	return func(ctx context.Context) (ProductFetcher, error) {
		c, err := p.Client(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type CoverStore interface {
	Download(ctx context.Context, gtin, coverURL string) (string, error)
}

type Publisher interface {
	Publish(topic string, msg broadcast.Message) int
}

// Service runs one enrichment attempt for a product.
type Service struct {
	db      *gorm.DB
	clients ClientSource
	covers  CoverStore
	hub     Publisher
	now     func() time.Time
}

type Option func(*Service)

func WithCovers(c CoverStore) Option { return func(s *Service) { s.covers = c } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.hub = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, clients ClientSource, opts ...Option) *Service {
	s := &Service{db: db, clients: clients, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Call enriches product from TBDB. An already enriched product is returned
// untouched unless force is set. Failures are recorded on the product as an
// error status and returned so the caller's retry policy sees them.
func (s *Service) Call(ctx context.Context, product *models.Product, force bool) (*models.Product, error) {
	log := logging.Ctx(ctx).With().Str("gtin", product.GTIN).Logger()

	if product.Enriched() && !force {
		log.Debug().Msg("Product already has TBDB data, skipping")
		return product, nil
	}
	log.Info().Bool("force", force).Msg("Enriching product from TBDB")

	data, err := s.fetch(ctx, product.GTIN)
	if err != nil {
		log.Error().Err(err).Msg("Error enriching product")
		if recErr := s.RecordStatus(ctx, product, models.Failed(s.now(), err)); recErr != nil {
			log.Error().Err(recErr).Msg("Failed to record enrichment error")
		}
		return product, err
	}

	if data == nil {
		if err := s.RecordStatus(ctx, product, models.NotFound(s.now(), notFoundMessage)); err != nil {
			return product, err
		}
		log.Info().Msg("Product not found in TBDB")
		return product, nil
	}

	if err := s.merge(ctx, product, data); err != nil {
		log.Error().Err(err).Msg("Error enriching product")
		if recErr := s.RecordStatus(ctx, product, models.Failed(s.now(), err)); recErr != nil {
			log.Error().Err(recErr).Msg("Failed to record enrichment error")
		}
		return product, err
	}
	if data.CoverURL != "" {
		s.attachCover(ctx, product, data.CoverURL)
	}
	if err := s.RecordStatus(ctx, product, models.Succeeded(s.now(), datatypes.JSON(data.Raw))); err != nil {
		return product, err
	}
	log.Info().Msg("✅ Enriched product with TBDB data")
	return product, nil
}

// Reset clears a failed enrichment so the product is eligible again. It
// reports whether anything was cleared.
func (s *Service) Reset(ctx context.Context, product *models.Product) (bool, error) {
	if !product.EnrichmentFailed() {
		return false, nil
	}
	return true, s.RecordStatus(ctx, product, models.EnrichmentState{})
}

// RecordStatus persists an enrichment state and notifies live views.
func (s *Service) RecordStatus(ctx context.Context, product *models.Product, state models.EnrichmentState) error {
	product.SetEnrichment(state)
	if err := s.db.WithContext(ctx).Model(product).Select("tbdb_data").Updates(product).Error; err != nil {
		return fmt.Errorf("save enrichment status: %w", err)
	}
	s.broadcast(ctx, product)
	return nil
}

// fetch returns nil data when TBDB has nothing for gtin or answered with a
// different product.
func (s *Service) fetch(ctx context.Context, gtin string) (*tbdb.Product, error) {
	client, err := s.clients(ctx)
	if err != nil {
		return nil, err
	}
	data, err := client.GetProduct(ctx, gtin)
	if err != nil || data == nil {
		return nil, err
	}
	if data.GTIN != gtin {
		logging.Ctx(ctx).Warn().Str("expected", gtin).Str("got", data.GTIN).Msg("TBDB returned product with different GTIN")
		return nil, nil
	}
	return data, nil
}

// merge fills blank product fields from data. Only a blank or placeholder
// title is replaced; every other populated field is left alone.
func (s *Service) merge(ctx context.Context, p *models.Product, d *tbdb.Product) error {
	var cols []string
	fill := func(col string, dst *string, v string) {
		if strings.TrimSpace(*dst) == "" && strings.TrimSpace(v) != "" {
			*dst = v
			cols = append(cols, col)
		}
	}

	if d.Title != "" && p.PlaceholderTitle() {
		p.Title = d.Title
		cols = append(cols, "title")
	}
	fill("subtitle", &p.Subtitle, d.Subtitle)
	fill("author", &p.Author, d.Author)
	fill("publisher", &p.Publisher, d.Publisher)
	fill("description", &p.Description, d.Description)
	fill("genre", &p.Genre, d.FirstCategory())
	fill("cover_image_url", &p.CoverImageURL, d.CoverURL)
	if p.Pages == nil && d.Pages != nil && *d.Pages > 0 {
		pages := *d.Pages
		p.Pages = &pages
		cols = append(cols, "pages")
	}
	if p.PublicationDate == nil && d.PublishDate != "" {
		if t, ok := ParsePublishDate(d.PublishDate); ok {
			p.PublicationDate = &t
			cols = append(cols, "publication_date")
		} else {
			logging.Ctx(ctx).Warn().Str("publish_date", d.PublishDate).Msg("Could not parse publication date")
		}
	}
	if d.Package != "" {
		fill("notes", &p.Notes, Notes(p.ProductType, d))
		if p.ProductType == models.ProductBoardGame {
			fill("players", &p.Players, d.Players)
			fill("age_range", &p.AgeRange, d.AgeRange)
		}
	}

	if len(cols) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(p).Select(cols).Updates(p).Error; err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	s.broadcast(ctx, p)
	return nil
}

// attachCover downloads the cover unless one is stored already. Failures
// are logged and never fail the enrichment.
func (s *Service) attachCover(ctx context.Context, p *models.Product, coverURL string) {
	if s.covers == nil || p.HasCover() {
		return
	}
	log := logging.Ctx(ctx).With().Str("gtin", p.GTIN).Logger()
	log.Info().Str("url", coverURL).Msg("Downloading cover image")

	name, err := s.covers.Download(ctx, p.GTIN, coverURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download cover image")
		return
	}
	// Another attempt may have attached one meanwhile; first one wins.
	res := s.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND (cover_image_path IS NULL OR cover_image_path = '')", p.ID).
		Update("cover_image_path", name)
	if res.Error != nil {
		log.Error().Err(res.Error).Msg("Failed to record cover image")
		return
	}
	if res.RowsAffected == 1 {
		p.CoverImagePath = name
	}
}

func (s *Service) broadcast(ctx context.Context, p *models.Product) {
	if s.hub == nil {
		return
	}
	// Subscribers encode the payload on their own goroutines while the
	// caller keeps updating p, so they get a copy.
	snap := *p
	snap.LibraryItems = nil
	s.hub.Publish(broadcast.ProductTopic(p.ID), broadcast.Message{
		Type:   broadcast.MessageTypeProduct,
		Target: "product-data",
		Data:   snap,
	})

	var items []models.LibraryItem
	if err := s.db.WithContext(ctx).Where("product_id = ?", p.ID).Find(&items).Error; err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to load library items for broadcast")
		return
	}
	for _, item := range items {
		s.hub.Publish(broadcast.LibraryTopic(item.LibraryID), broadcast.Message{
			Type:   broadcast.MessageTypeLibraryItem,
			Target: fmt.Sprintf("library_item_%d", item.ID),
			Data:   map[string]any{"library_item": item, "product": snap},
		})
	}
}
