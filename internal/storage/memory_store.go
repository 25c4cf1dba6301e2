package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps. Used for development and
// tests; state does not survive a restart.
type MemoryStore struct {
	mu sync.Mutex

	consumed   map[string]struct{}
	services   map[int64]*Service
	ratings    map[int64][]Rating
	categories map[int64]Category

	nextServiceID  int64
	nextRatingID   int64
	nextCategoryID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consumed:       make(map[string]struct{}),
		services:       make(map[int64]*Service),
		ratings:        make(map[int64][]Rating),
		categories:     make(map[int64]Category),
		nextServiceID:  1,
		nextRatingID:   1,
		nextCategoryID: 1,
	}
}

// AdmitPayment records a payment hash; the map insert under the lock gives the
// same first-writer-wins guarantee as the Postgres unique constraint.
func (s *MemoryStore) AdmitPayment(_ context.Context, paymentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumed[paymentHash]; exists {
		return false, nil
	}
	s.consumed[paymentHash] = struct{}{}
	return true, nil
}

func (s *MemoryStore) CreateService(_ context.Context, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	svc.ID = s.nextServiceID
	s.nextServiceID++
	svc.Domain = EffectiveDomain(svc.URL)
	svc.CreatedAt = now
	svc.UpdatedAt = now

	stored := *svc
	stored.Categories = append([]Category(nil), svc.Categories...)
	s.services[svc.ID] = &stored
	return nil
}

func (s *MemoryStore) ReplacePurgedService(_ context.Context, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.services[svc.ID]
	if !ok || existing.Status != StatusPurged {
		return ErrNotFound
	}

	now := time.Now().UTC()
	svc.Domain = EffectiveDomain(svc.URL)
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = now
	svc.AvgRating = existing.AvgRating
	svc.RatingCount = existing.RatingCount

	stored := *svc
	stored.Categories = append([]Category(nil), svc.Categories...)
	s.services[svc.ID] = &stored
	return nil
}

func (s *MemoryStore) GetServiceBySlug(_ context.Context, slug string) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services {
		if svc.Slug == slug && svc.Status != StatusPurged {
			return cloneService(svc), nil
		}
	}
	return Service{}, ErrNotFound
}

func (s *MemoryStore) GetPurgedServiceByURL(_ context.Context, rawURL string) (Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services {
		if svc.Status == StatusPurged && svc.URL == rawURL {
			return cloneService(svc), nil
		}
	}
	return Service{}, ErrNotFound
}

func (s *MemoryStore) ListServices(_ context.Context, f ServiceFilter) ([]Service, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Service
	for _, svc := range s.services {
		if svc.Status == StatusPurged {
			continue
		}
		if f.Status != "" && svc.Status != f.Status {
			continue
		}
		if f.Verified != nil && svc.DomainVerified != *f.Verified {
			continue
		}
		if f.CategorySlug != "" && !hasCategorySlug(svc, f.CategorySlug) {
			continue
		}
		if f.Query != "" {
			q := strings.ToLower(f.Query)
			if !strings.Contains(strings.ToLower(svc.Name), q) &&
				!strings.Contains(strings.ToLower(svc.Description), q) {
				continue
			}
		}
		matched = append(matched, svc)
	}

	sortServices(matched, f.Sort)
	total := int64(len(matched))

	page, size := normalizePage(f.Page, f.PageSize)
	start := (page - 1) * size
	if start >= len(matched) {
		return []Service{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]Service, 0, end-start)
	for _, svc := range matched[start:end] {
		out = append(out, cloneService(svc))
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateService(_ context.Context, svc *Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.services[svc.ID]
	if !ok || existing.Status == StatusPurged {
		return ErrNotFound
	}

	existing.Name = svc.Name
	existing.Description = svc.Description
	existing.PricingSats = svc.PricingSats
	existing.PricingModel = svc.PricingModel
	existing.Protocol = svc.Protocol
	existing.OwnerName = svc.OwnerName
	existing.OwnerContact = svc.OwnerContact
	existing.LogoURL = svc.LogoURL
	existing.Status = svc.Status
	existing.Categories = append([]Category(nil), svc.Categories...)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) PurgeService(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.services[id]
	if !ok || existing.Status == StatusPurged {
		return ErrNotFound
	}
	existing.Status = StatusPurged
	existing.EditTokenHash = ""
	existing.DomainChallenge = ""
	existing.DomainChallengeExpiresAt = nil
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services {
		if svc.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ServicesByDomain(_ context.Context, domain string) ([]Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Service
	for _, svc := range s.services {
		if svc.Status != StatusPurged && svc.Domain == domain {
			out = append(out, cloneService(svc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetDomainChallenge(_ context.Context, id int64, challenge string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.services[id]
	if !ok || existing.Status == StatusPurged {
		return ErrNotFound
	}
	expires := expiresAt.UTC()
	existing.DomainChallenge = challenge
	existing.DomainChallengeExpiresAt = &expires
	return nil
}

func (s *MemoryStore) RotateDomainTokens(_ context.Context, domain, newHash string, recoveringID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slugs []string
	now := time.Now().UTC()
	for _, svc := range s.services {
		if svc.Status == StatusPurged || svc.Domain != domain {
			continue
		}
		svc.EditTokenHash = newHash
		svc.DomainVerified = true
		svc.UpdatedAt = now
		if svc.ID == recoveringID {
			svc.DomainChallenge = ""
			svc.DomainChallengeExpiresAt = nil
		}
		slugs = append(slugs, svc.Slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

func (s *MemoryStore) CreateRating(_ context.Context, r *Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[r.ServiceID]
	if !ok || svc.Status == StatusPurged {
		return ErrNotFound
	}

	r.ID = s.nextRatingID
	s.nextRatingID++
	r.CreatedAt = time.Now().UTC()
	s.ratings[r.ServiceID] = append(s.ratings[r.ServiceID], *r)

	var sum int64
	for _, rating := range s.ratings[r.ServiceID] {
		sum += int64(rating.Score)
	}
	svc.RatingCount = len(s.ratings[r.ServiceID])
	svc.AvgRating = float64(sum) / float64(svc.RatingCount)
	return nil
}

func (s *MemoryStore) ListRatings(_ context.Context, serviceID int64, limit, offset int) ([]Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.ratings[serviceID]
	// Newest first.
	out := make([]Rating, len(all))
	for i, r := range all {
		out[len(all)-1-i] = r
	}

	if offset >= len(out) {
		return []Rating{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RatingDistribution(_ context.Context, serviceID int64) (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dist := make(map[int]int64)
	for _, r := range s.ratings[serviceID] {
		dist[r.Score]++
	}
	return dist, nil
}

func (s *MemoryStore) ListCategories(_ context.Context) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CategoriesByIDs(_ context.Context, ids []int64) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Category, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.categories[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCategory(_ context.Context, c *Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = s.nextCategoryID
	s.nextCategoryID++
	s.categories[c.ID] = *c
	return nil
}

func (s *MemoryStore) AnalyticsSummary(_ context.Context) (Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary Analytics
	var priceSum int64
	var rated []*Service
	for _, svc := range s.services {
		if svc.Status == StatusPurged {
			continue
		}
		summary.TotalServices++
		summary.TotalRatings += int64(svc.RatingCount)
		priceSum += svc.PricingSats
		if svc.RatingCount > 0 {
			rated = append(rated, svc)
		}
	}
	if summary.TotalServices > 0 {
		summary.AvgPriceSats = float64(priceSum) / float64(summary.TotalServices)
	}

	sort.Slice(rated, func(i, j int) bool {
		if rated[i].AvgRating != rated[j].AvgRating {
			return rated[i].AvgRating > rated[j].AvgRating
		}
		return rated[i].RatingCount > rated[j].RatingCount
	})
	for i, svc := range rated {
		if i == 10 {
			break
		}
		summary.TopRated = append(summary.TopRated, cloneService(svc))
	}
	return summary, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneService(svc *Service) Service {
	out := *svc
	out.Categories = append([]Category(nil), svc.Categories...)
	if svc.DomainChallengeExpiresAt != nil {
		expires := *svc.DomainChallengeExpiresAt
		out.DomainChallengeExpiresAt = &expires
	}
	return out
}

func hasCategorySlug(svc *Service, slug string) bool {
	for _, c := range svc.Categories {
		if c.Slug == slug {
			return true
		}
	}
	return false
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func sortServices(services []*Service, order string) {
	sort.Slice(services, func(i, j int) bool {
		a, b := services[i], services[j]
		switch order {
		case "top-rated":
			if a.AvgRating != b.AvgRating {
				return a.AvgRating > b.AvgRating
			}
		case "cheapest":
			if a.PricingSats != b.PricingSats {
				return a.PricingSats < b.PricingSats
			}
		case "most-reviewed":
			if a.RatingCount != b.RatingCount {
				return a.RatingCount > b.RatingCount
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
