package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// Listing status values.
const (
	StatusUnverified = "unverified"
	StatusLive       = "live"
	StatusDead       = "dead"

	// StatusPurged marks a tombstoned listing: invisible to every read, but
	// the row is preserved so a future submission of the same URL reuses it
	// (and the rating foreign keys pointing at it).
	StatusPurged = "purged"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Service is a directory listing. EditTokenHash, DomainChallenge and
// DomainChallengeExpiresAt are custody state and must never be serialized at
// the system boundary.
type Service struct {
	ID           int64
	Name         string
	Slug         string
	URL          string
	Domain       string // lowercased hostname of URL, maintained on every write
	Description  string
	PricingSats  int64
	PricingModel string
	Protocol     string
	OwnerName    string
	OwnerContact string
	LogoURL      string

	EditTokenHash            string
	DomainChallenge          string
	DomainChallengeExpiresAt *time.Time
	DomainVerified           bool

	AvgRating   float64
	RatingCount int
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Categories []Category
}

// Category groups listings for discovery.
type Category struct {
	ID          int64
	Name        string
	Slug        string
	Description string
}

// Rating is a paid review of a listing.
type Rating struct {
	ID           int64
	ServiceID    int64
	Score        int
	Comment      string
	ReviewerName string
	CreatedAt    time.Time
}

// Analytics is the premium aggregate view over the directory.
type Analytics struct {
	TotalServices int64
	TotalRatings  int64
	AvgPriceSats  float64
	TopRated      []Service
}

// ServiceFilter narrows and orders listing queries. Purged rows are always
// excluded regardless of filter.
type ServiceFilter struct {
	Query        string // substring match on name or description
	CategorySlug string
	Status       string
	Verified     *bool
	Sort         string // "top-rated", "cheapest", "most-reviewed"; default newest first
	Page         int    // 1-based
	PageSize     int
}

// Store is the persistence boundary shared by all request handlers. One
// store handle is shared across requests; implementations must be safe for
// concurrent use and must not hold locks across their own I/O.
type Store interface {
	// AdmitPayment inserts a payment hash into the consumed-payments ledger.
	// It returns true if this call inserted the hash (first use) and false if
	// it already existed (replay). Atomic against concurrent writers: the
	// unique constraint decides, not a prior read.
	AdmitPayment(ctx context.Context, paymentHash string) (bool, error)

	// CreateService inserts a listing and assigns its ID.
	CreateService(ctx context.Context, svc *Service) error

	// ReplacePurgedService overwrites a purged row in place, preserving its
	// ID so rating foreign keys stay valid. svc.ID names the row.
	ReplacePurgedService(ctx context.Context, svc *Service) error

	// GetServiceBySlug returns a non-purged listing.
	GetServiceBySlug(ctx context.Context, slug string) (Service, error)

	// GetPurgedServiceByURL returns the purged listing with this exact URL,
	// if any. Used by the creation reuse rule.
	GetPurgedServiceByURL(ctx context.Context, rawURL string) (Service, error)

	// ListServices returns one page of non-purged listings and the total
	// match count.
	ListServices(ctx context.Context, f ServiceFilter) ([]Service, int64, error)

	// UpdateService persists the editable listing fields (name, description,
	// pricing, protocol, owner fields, logo, categories) and bumps
	// updated_at.
	UpdateService(ctx context.Context, svc *Service) error

	// PurgeService tombstones a listing: status becomes purged and the edit
	// token hash is cleared.
	PurgeService(ctx context.Context, id int64) error

	// SlugExists reports whether any listing, purged included, holds a slug.
	SlugExists(ctx context.Context, slug string) (bool, error)

	// ServicesByDomain returns all non-purged listings whose effective
	// domain equals domain.
	ServicesByDomain(ctx context.Context, domain string) ([]Service, error)

	// SetDomainChallenge stores a recovery challenge and its expiry on a
	// listing.
	SetDomainChallenge(ctx context.Context, id int64, challenge string, expiresAt time.Time) error

	// RotateDomainTokens atomically sets the edit token hash and
	// domain_verified on every non-purged listing of the domain, and clears
	// the challenge on the recovering listing, in a single transaction.
	// Returns the slugs of the affected listings.
	RotateDomainTokens(ctx context.Context, domain, newHash string, recoveringID int64) ([]string, error)

	// CreateRating inserts a rating and updates the listing's denormalized
	// avg_rating and rating_count in the same transaction.
	CreateRating(ctx context.Context, r *Rating) error

	// ListRatings returns ratings for a listing, newest first.
	ListRatings(ctx context.Context, serviceID int64, limit, offset int) ([]Rating, error)

	// RatingDistribution returns the count of ratings per score (1..5).
	RatingDistribution(ctx context.Context, serviceID int64) (map[int]int64, error)

	// ListCategories returns all categories ordered by name.
	ListCategories(ctx context.Context) ([]Category, error)

	// CategoriesByIDs resolves category IDs; unknown IDs are skipped.
	CategoriesByIDs(ctx context.Context, ids []int64) ([]Category, error)

	// CreateCategory inserts a category (seeding and tests).
	CreateCategory(ctx context.Context, c *Category) error

	// AnalyticsSummary computes the premium aggregates.
	AnalyticsSummary(ctx context.Context) (Analytics, error)

	Close() error
}

// EffectiveDomain returns the lowercased hostname of a listing URL: the unit
// over which edit-token recovery applies. Exact host match only, no
// public-suffix logic.
func EffectiveDomain(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
