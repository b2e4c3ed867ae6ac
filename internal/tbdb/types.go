package tbdb

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Product is TBDB's view of a GTIN. Only the fields ShelfLife merges are
// typed; the whole document is kept in Raw for the enrichment record.
type Product struct {
	ID              string   `json:"id,omitempty"`
	GTIN            string   `json:"gtin"`
	Title           string   `json:"title,omitempty"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Author          string   `json:"author,omitempty"`
	Publisher       string   `json:"publisher,omitempty"`
	Description     string   `json:"description,omitempty"`
	Pages           *int     `json:"pages,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	PublishDate     string   `json:"publish_date,omitempty"`
	CoverURL        string   `json:"cover_url,omitempty"`
	ProductType     string   `json:"product_type,omitempty"`
	Package         string   `json:"package,omitempty"`
	Language        Language `json:"language,omitempty"`
	Region          string   `json:"region,omitempty"`
	DurationSeconds *int     `json:"duration_seconds,omitempty"`
	Players         string   `json:"players,omitempty"`
	AgeRange        string   `json:"age_range,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type Language struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// FirstCategory is used as the local genre.
func (p *Product) FirstCategory() string {
	if len(p.Categories) == 0 {
		return ""
	}
	return p.Categories[0]
}

type SearchOptions struct {
	ProductType string
	PerPage     int
	Page        int
}

type SearchResult struct {
	Data []Product `json:"data"`
	Meta struct {
		Total   int `json:"total"`
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	} `json:"meta"`
}

// Me describes the account the token belongs to.
type Me struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Quota *struct {
		Remaining int    `json:"remaining"`
		Limit     int    `json:"limit"`
		ResetAt   string `json:"reset_at,omitempty"`
	} `json:"quota,omitempty"`
}

// dataPayload unwraps a {"data": {...}} envelope, returning body unchanged
// when there is none.
func dataPayload(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return body
	}
	if d := bytes.TrimSpace(envelope.Data); len(d) > 0 && d[0] == '{' {
		return d
	}
	return body
}

func unmarshalData(body []byte, v any) error {
	return json.Unmarshal(dataPayload(body), v)
}

func decodeProduct(body []byte) (*Product, error) {
	payload := dataPayload(body)
	var p Product
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	p.Raw = json.RawMessage(payload)
	return &p, nil
}
