// Package types holds the records that flow through the watch pipeline:
// task configuration, listings, seller profiles, verdicts and the persisted
// record that binds them together.
package types

import (
	"strings"
	"time"
)

// Sentinels used when the marketplace omits a field.
const (
	UnknownTitle    = "unknown title"
	UnknownPrice    = "price unavailable"
	UnknownRegion   = "unknown region"
	UnknownSeller   = "anonymous seller"
	UnknownTime     = "unknown time"
	UnknownID       = "unknown id"
	NotAvailable    = "n/a"
	NotApplicable   = "N/A"
	UnknownWant     = "NaN"
	UnknownViews    = "-"
	NoCreditTier    = "none"
	UnknownRaterTag = "unknown role"
	UnknownTenure   = "unknown"
)

// Task is one configured watch task. It is read once at startup and never
// mutated during a run.
type Task struct {
	Name            string `json:"task_name"`
	Enabled         bool   `json:"enabled"`
	Keyword         string `json:"keyword"`
	MaxPages        int    `json:"max_pages"`
	PersonalOnly    bool   `json:"personal_only"`
	MinPrice        string `json:"min_price,omitempty"`
	MaxPrice        string `json:"max_price,omitempty"`
	RubricReference string `json:"rubric_reference"`
	RubricBase      string `json:"rubric_base,omitempty"`
}

// HasPriceBand reports whether the task narrows results by price.
func (t Task) HasPriceBand() bool {
	return strings.TrimSpace(t.MinPrice) != "" || strings.TrimSpace(t.MaxPrice) != ""
}

// RecordFileName is the record store file name derived from the keyword.
func (t Task) RecordFileName() string {
	return strings.ReplaceAll(t.Keyword, " ", "_") + "_full_data.jsonl"
}

// Listing is one marketplace item. The search crawler fills the basic
// fields; enrichment backfills the detail fields.
type Listing struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Price         string   `json:"price"`
	OriginalPrice string   `json:"original_price"`
	WantCount     string   `json:"want_count"`
	ViewCount     string   `json:"view_count,omitempty"`
	Tags          []string `json:"tags"`
	Region        string   `json:"region"`
	SellerName    string   `json:"seller_name"`
	Link          string   `json:"link"`
	PublishedAt   string   `json:"published_at"`
	MainImage     string   `json:"main_image,omitempty"`
	Images        []string `json:"images,omitempty"`
}

// ImageURLs returns the full image list, falling back to the main image.
func (l Listing) ImageURLs() []string {
	if len(l.Images) > 0 {
		return l.Images
	}
	if l.MainImage != "" {
		return []string{l.MainImage}
	}
	return nil
}

// CatalogItem is one entry of a seller's own listing catalog.
type CatalogItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Price  string `json:"price"`
	Image  string `json:"image"`
	Status string `json:"status"`
}

// Polarity of a rating.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNeutral  Polarity = "neutral"
	PolarityNegative Polarity = "negative"
	PolarityUnknown  Polarity = "unknown"
)

// PolarityFromCode maps the marketplace rate code (1, 0, -1).
func PolarityFromCode(code int, ok bool) Polarity {
	if !ok {
		return PolarityUnknown
	}
	switch code {
	case 1:
		return PolarityPositive
	case 0:
		return PolarityNeutral
	case -1:
		return PolarityNegative
	default:
		return PolarityUnknown
	}
}

// RaterRole says whom the rating was addressed to.
type RaterRole string

const (
	RoleSeller  RaterRole = "seller"
	RoleBuyer   RaterRole = "buyer"
	RoleUnknown RaterRole = "unknown"
)

// Rating is one captured review. Immutable once captured.
type Rating struct {
	ID        string    `json:"id"`
	Feedback  string    `json:"feedback"`
	Polarity  Polarity  `json:"polarity"`
	Role      RaterRole `json:"role"`
	RoleText  string    `json:"role_text"`
	RaterName string    `json:"rater_name"`
	Time      string    `json:"time"`
	Images    []string  `json:"images,omitempty"`
}

// Reputation is the positive-rate summary for one role partition.
type Reputation struct {
	Positive int    `json:"positive"`
	Total    int    `json:"total"`
	Count    string `json:"count"`
	Rate     string `json:"rate"`
}

// SellerProfile aggregates the seller header, catalog and rating history.
type SellerProfile struct {
	SellerID        string        `json:"seller_id,omitempty"`
	DisplayName     string        `json:"display_name"`
	Avatar          string        `json:"avatar"`
	Bio             string        `json:"bio"`
	ItemCount       string        `json:"item_count"`
	RatingCount     string        `json:"rating_count"`
	SellerCredit    string        `json:"seller_credit"`
	BuyerCredit     string        `json:"buyer_credit"`
	Catalog         []CatalogItem `json:"catalog"`
	Ratings         []Rating      `json:"ratings"`
	AsSeller        *Reputation   `json:"as_seller,omitempty"`
	AsBuyer         *Reputation   `json:"as_buyer,omitempty"`
	TenureDays      int           `json:"tenure_days"`
	Tenure          string        `json:"tenure"`
	ExternalCredit  string        `json:"external_credit"`
	ProfileComplete bool          `json:"profile_complete"`
}

// Verdict is the eligibility gate's decision for one listing.
type Verdict struct {
	IsRecommended bool           `json:"is_recommended"`
	Reason        string         `json:"reason"`
	RiskTags      []string       `json:"risk_tags,omitempty"`
	Criteria      map[string]any `json:"criteria_analysis,omitempty"`
}

// Record is the persisted unit: created once, appended, never edited.
// Exactly one of Verdict and AnalysisError is set.
type Record struct {
	CrawledAt     time.Time     `json:"crawled_at"`
	RunID         string        `json:"run_id,omitempty"`
	TaskName      string        `json:"task_name"`
	Keyword       string        `json:"keyword"`
	Listing       Listing       `json:"listing"`
	Seller        SellerProfile `json:"seller"`
	Verdict       *Verdict      `json:"verdict,omitempty"`
	AnalysisError string        `json:"analysis_error,omitempty"`
}

// Recommended reports whether the record carries a positive verdict.
func (r Record) Recommended() bool {
	return r.Verdict != nil && r.Verdict.IsRecommended
}
