package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newListing(slug, rawURL string) *Service {
	return &Service{
		Name:          "Service " + slug,
		Slug:          slug,
		URL:           rawURL,
		Description:   "A paid API",
		PricingSats:   100,
		PricingModel:  "per-call",
		Protocol:      "l402",
		EditTokenHash: "hash-" + slug,
		Status:        StatusUnverified,
	}
}

func TestAdmitPaymentFirstUseWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	admitted, err := store.AdmitPayment(ctx, "abc123")
	if err != nil {
		t.Fatalf("AdmitPayment: %v", err)
	}
	if !admitted {
		t.Fatal("first admission should succeed")
	}

	admitted, err = store.AdmitPayment(ctx, "abc123")
	if err != nil {
		t.Fatalf("AdmitPayment replay: %v", err)
	}
	if admitted {
		t.Fatal("second admission of the same hash must be refused")
	}
}

func TestAdmitPaymentConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AdmitPayment(ctx, "contended-hash")
			if err != nil {
				t.Errorf("AdmitPayment: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestPurgedListingsInvisible(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	svc := newListing("ghost-api", "https://ghost.example/api")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if err := store.PurgeService(ctx, svc.ID); err != nil {
		t.Fatalf("PurgeService: %v", err)
	}

	if _, err := store.GetServiceBySlug(ctx, "ghost-api"); err != ErrNotFound {
		t.Fatalf("GetServiceBySlug after purge: want ErrNotFound, got %v", err)
	}

	listed, total, err := store.ListServices(ctx, ServiceFilter{})
	if err != nil {
		t.Fatalf("ListServices: %v", err)
	}
	if total != 0 || len(listed) != 0 {
		t.Fatalf("purged listing leaked into list: total=%d len=%d", total, len(listed))
	}

	byDomain, err := store.ServicesByDomain(ctx, "ghost.example")
	if err != nil {
		t.Fatalf("ServicesByDomain: %v", err)
	}
	if len(byDomain) != 0 {
		t.Fatal("purged listing leaked into domain query")
	}

	// The slug stays reserved even though the listing is invisible.
	exists, err := store.SlugExists(ctx, "ghost-api")
	if err != nil {
		t.Fatalf("SlugExists: %v", err)
	}
	if !exists {
		t.Fatal("purged listing should still hold its slug")
	}
}

func TestPurgeClearsEditToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	svc := newListing("doomed", "https://doomed.example")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if err := store.PurgeService(ctx, svc.ID); err != nil {
		t.Fatalf("PurgeService: %v", err)
	}

	purged, err := store.GetPurgedServiceByURL(ctx, "https://doomed.example")
	if err != nil {
		t.Fatalf("GetPurgedServiceByURL: %v", err)
	}
	if purged.EditTokenHash != "" {
		t.Fatal("purge must clear the edit token hash")
	}
	if purged.Status != StatusPurged {
		t.Fatalf("status = %q, want purged", purged.Status)
	}
}

func TestReplacePurgedServicePreservesID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	svc := newListing("reborn", "https://reborn.example")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if err := store.CreateRating(ctx, &Rating{ServiceID: svc.ID, Score: 4}); err != nil {
		t.Fatalf("CreateRating: %v", err)
	}
	if err := store.PurgeService(ctx, svc.ID); err != nil {
		t.Fatalf("PurgeService: %v", err)
	}

	replacement := newListing("reborn-v2", "https://reborn.example")
	replacement.ID = svc.ID
	replacement.EditTokenHash = "new-hash"
	if err := store.ReplacePurgedService(ctx, replacement); err != nil {
		t.Fatalf("ReplacePurgedService: %v", err)
	}

	got, err := store.GetServiceBySlug(ctx, "reborn-v2")
	if err != nil {
		t.Fatalf("GetServiceBySlug: %v", err)
	}
	if got.ID != svc.ID {
		t.Fatalf("replacement must keep the original ID: got %d want %d", got.ID, svc.ID)
	}
	if got.EditTokenHash != "new-hash" {
		t.Fatal("replacement must carry the fresh edit token hash")
	}
	if got.RatingCount != 1 {
		t.Fatalf("prior ratings must survive replacement: count=%d", got.RatingCount)
	}

	// Replacing a live row must fail.
	if err := store.ReplacePurgedService(ctx, replacement); err != ErrNotFound {
		t.Fatalf("ReplacePurgedService on live row: want ErrNotFound, got %v", err)
	}
}

func TestRotateDomainTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newListing("alpha", "https://api.example.com/a")
	b := newListing("beta", "https://api.example.com/b")
	other := newListing("gamma", "https://other.example.net")
	purged := newListing("delta", "https://api.example.com/d")
	for _, svc := range []*Service{a, b, other, purged} {
		if err := store.CreateService(ctx, svc); err != nil {
			t.Fatalf("CreateService(%s): %v", svc.Slug, err)
		}
	}
	if err := store.PurgeService(ctx, purged.ID); err != nil {
		t.Fatalf("PurgeService: %v", err)
	}
	expires := time.Now().Add(30 * time.Minute)
	if err := store.SetDomainChallenge(ctx, a.ID, "deadbeef", expires); err != nil {
		t.Fatalf("SetDomainChallenge: %v", err)
	}

	slugs, err := store.RotateDomainTokens(ctx, "api.example.com", "rotated-hash", a.ID)
	if err != nil {
		t.Fatalf("RotateDomainTokens: %v", err)
	}
	if len(slugs) != 2 {
		t.Fatalf("rotation affected %d listings, want 2 (%v)", len(slugs), slugs)
	}

	for _, slug := range []string{"alpha", "beta"} {
		got, err := store.GetServiceBySlug(ctx, slug)
		if err != nil {
			t.Fatalf("GetServiceBySlug(%s): %v", slug, err)
		}
		if got.EditTokenHash != "rotated-hash" {
			t.Fatalf("%s: token not rotated", slug)
		}
		if !got.DomainVerified {
			t.Fatalf("%s: domain_verified not set", slug)
		}
	}

	rotated, _ := store.GetServiceBySlug(ctx, "alpha")
	if rotated.DomainChallenge != "" || rotated.DomainChallengeExpiresAt != nil {
		t.Fatal("challenge must be cleared on the recovering listing")
	}

	untouched, _ := store.GetServiceBySlug(ctx, "gamma")
	if untouched.EditTokenHash == "rotated-hash" || untouched.DomainVerified {
		t.Fatal("rotation leaked to an unrelated domain")
	}
}

func TestCreateRatingUpdatesAggregate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	svc := newListing("rated", "https://rated.example")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	for _, score := range []int{5, 3, 4} {
		if err := store.CreateRating(ctx, &Rating{ServiceID: svc.ID, Score: score}); err != nil {
			t.Fatalf("CreateRating(%d): %v", score, err)
		}
	}

	got, err := store.GetServiceBySlug(ctx, "rated")
	if err != nil {
		t.Fatalf("GetServiceBySlug: %v", err)
	}
	if got.RatingCount != 3 {
		t.Fatalf("rating_count = %d, want 3", got.RatingCount)
	}
	if got.AvgRating != 4 {
		t.Fatalf("avg_rating = %v, want 4", got.AvgRating)
	}

	dist, err := store.RatingDistribution(ctx, svc.ID)
	if err != nil {
		t.Fatalf("RatingDistribution: %v", err)
	}
	if dist[5] != 1 || dist[4] != 1 || dist[3] != 1 {
		t.Fatalf("unexpected distribution: %v", dist)
	}
}

func TestListRatingsNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	svc := newListing("reviewed", "https://reviewed.example")
	if err := store.CreateService(ctx, svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	for i := 1; i <= 5; i++ {
		r := &Rating{ServiceID: svc.ID, Score: 5, Comment: fmt.Sprintf("review %d", i)}
		if err := store.CreateRating(ctx, r); err != nil {
			t.Fatalf("CreateRating: %v", err)
		}
	}

	page, err := store.ListRatings(ctx, svc.ID, 2, 0)
	if err != nil {
		t.Fatalf("ListRatings: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len = %d, want 2", len(page))
	}
	if page[0].Comment != "review 5" {
		t.Fatalf("first result = %q, want newest", page[0].Comment)
	}

	rest, err := store.ListRatings(ctx, svc.ID, 10, 4)
	if err != nil {
		t.Fatalf("ListRatings offset: %v", err)
	}
	if len(rest) != 1 || rest[0].Comment != "review 1" {
		t.Fatalf("offset page wrong: %+v", rest)
	}
}

func TestListServicesFiltersAndSort(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cat := &Category{Name: "Inference", Slug: "inference"}
	if err := store.CreateCategory(ctx, cat); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}

	cheap := newListing("cheap-api", "https://cheap.example")
	cheap.PricingSats = 10
	cheap.Status = StatusLive
	cheap.Categories = []Category{*cat}

	pricey := newListing("pricey-api", "https://pricey.example")
	pricey.PricingSats = 9000
	pricey.Status = StatusLive

	dead := newListing("dead-api", "https://dead.example")
	dead.Status = StatusDead

	for _, svc := range []*Service{cheap, pricey, dead} {
		if err := store.CreateService(ctx, svc); err != nil {
			t.Fatalf("CreateService(%s): %v", svc.Slug, err)
		}
	}

	live, total, err := store.ListServices(ctx, ServiceFilter{Status: StatusLive})
	if err != nil {
		t.Fatalf("ListServices(status): %v", err)
	}
	if total != 2 || len(live) != 2 {
		t.Fatalf("status filter: total=%d len=%d", total, len(live))
	}

	byCat, total, err := store.ListServices(ctx, ServiceFilter{CategorySlug: "inference"})
	if err != nil {
		t.Fatalf("ListServices(category): %v", err)
	}
	if total != 1 || byCat[0].Slug != "cheap-api" {
		t.Fatalf("category filter: %+v", byCat)
	}

	sorted, _, err := store.ListServices(ctx, ServiceFilter{Sort: "cheapest"})
	if err != nil {
		t.Fatalf("ListServices(cheapest): %v", err)
	}
	if sorted[0].Slug != "cheap-api" {
		t.Fatalf("cheapest first, got %s", sorted[0].Slug)
	}

	found, _, err := store.ListServices(ctx, ServiceFilter{Query: "PRICEY"})
	if err != nil {
		t.Fatalf("ListServices(query): %v", err)
	}
	if len(found) != 1 || found[0].Slug != "pricey-api" {
		t.Fatalf("query match: %+v", found)
	}
}

func TestEffectiveDomain(t *testing.T) {
	cases := []struct {
		rawURL string
		want   string
	}{
		{"https://API.Example.COM/v1", "api.example.com"},
		{"https://api.example.com:8443/v1", "api.example.com"},
		{"http://localhost:8000", "localhost"},
		{" https://spaced.example ", "spaced.example"},
		{"://not-a-url", ""},
	}
	for _, tc := range cases {
		if got := EffectiveDomain(tc.rawURL); got != tc.want {
			t.Errorf("EffectiveDomain(%q) = %q, want %q", tc.rawURL, got, tc.want)
		}
	}
}
