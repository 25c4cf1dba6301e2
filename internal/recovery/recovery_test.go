package recovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/storage"
	"github.com/satring/server/internal/token"
)

func testVerifier(t *testing.T, store storage.Store) *Verifier {
	t.Helper()
	v := New(store, config.RecoveryConfig{}, nil)
	// httptest servers listen on loopback.
	v.allowPrivate = true
	v.httpClient = &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return v
}

func seedListing(t *testing.T, store storage.Store, slug, rawURL string) storage.Service {
	t.Helper()
	svc := &storage.Service{
		Name:          slug,
		Slug:          slug,
		URL:           rawURL,
		EditTokenHash: token.Hash("original-token"),
		Status:        storage.StatusUnverified,
	}
	if err := store.CreateService(context.Background(), svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	return *svc
}

func TestIssueStoresChallenge(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)
	svc := seedListing(t, store, "api-one", "https://api-one.example")

	ch, err := v.Issue(context.Background(), svc)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(ch.Value) != 64 {
		t.Fatalf("challenge length = %d, want 64 hex chars", len(ch.Value))
	}
	if ch.Path != WellKnownPath {
		t.Fatalf("path = %q", ch.Path)
	}
	if !ch.ExpiresAt.After(time.Now().Add(29 * time.Minute)) {
		t.Fatalf("expiry too soon: %v", ch.ExpiresAt)
	}

	stored, err := store.GetServiceBySlug(context.Background(), "api-one")
	if err != nil {
		t.Fatalf("GetServiceBySlug: %v", err)
	}
	if stored.DomainChallenge != ch.Value {
		t.Fatal("challenge not persisted")
	}
}

func TestVerifySuccessRotatesDomain(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)

	var challenge string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		// Trailing newline is tolerated.
		w.Write([]byte(challenge + "\n"))
	}))
	defer srv.Close()

	first := seedListing(t, store, "first", srv.URL+"/api")
	seedListing(t, store, "second", srv.URL+"/other")

	ch, err := v.Issue(context.Background(), first)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	challenge = ch.Value

	svc, _ := store.GetServiceBySlug(context.Background(), "first")
	result, err := v.Verify(context.Background(), svc)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.NewEditToken == "" {
		t.Fatal("no replacement token returned")
	}
	if len(result.Slugs) != 2 {
		t.Fatalf("rotated %d listings, want 2: %v", len(result.Slugs), result.Slugs)
	}

	for _, slug := range []string{"first", "second"} {
		got, err := store.GetServiceBySlug(context.Background(), slug)
		if err != nil {
			t.Fatalf("GetServiceBySlug(%s): %v", slug, err)
		}
		if !token.Verify(result.NewEditToken, got.EditTokenHash) {
			t.Fatalf("%s: stored hash does not match new token", slug)
		}
		if !got.DomainVerified {
			t.Fatalf("%s: domain_verified not set", slug)
		}
	}

	rotated, _ := store.GetServiceBySlug(context.Background(), "first")
	if rotated.DomainChallenge != "" {
		t.Fatal("challenge must be cleared after success")
	}
}

func TestVerifyMismatch(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not-the-challenge"))
	}))
	defer srv.Close()

	svc := seedListing(t, store, "mism", srv.URL)
	if _, err := v.Issue(context.Background(), svc); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	svc, _ = store.GetServiceBySlug(context.Background(), "mism")
	_, err := v.Verify(context.Background(), svc)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}

	// The stored token must be untouched after a failed attempt.
	got, _ := store.GetServiceBySlug(context.Background(), "mism")
	if !token.Verify("original-token", got.EditTokenHash) {
		t.Fatal("failed verify must not rotate the token")
	}
}

func TestVerifyUnreachable(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	svc := seedListing(t, store, "gone", srv.URL)
	if _, err := v.Issue(context.Background(), svc); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	svc, _ = store.GetServiceBySlug(context.Background(), "gone")
	if _, err := v.Verify(context.Background(), svc); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("non-200: want ErrUnreachable, got %v", err)
	}

	srv.Close()
	if _, err := v.Verify(context.Background(), svc); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("closed server: want ErrUnreachable, got %v", err)
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)
	svc := seedListing(t, store, "blank", "https://blank.example")

	if _, err := v.Verify(context.Background(), svc); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("want ErrNoChallenge, got %v", err)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	store := storage.NewMemoryStore()
	v := testVerifier(t, store)
	svc := seedListing(t, store, "stale", "https://stale.example")

	past := time.Now().Add(-time.Minute)
	if err := store.SetDomainChallenge(context.Background(), svc.ID, "abcd", past); err != nil {
		t.Fatalf("SetDomainChallenge: %v", err)
	}

	svc, _ = store.GetServiceBySlug(context.Background(), "stale")
	if _, err := v.Verify(context.Background(), svc); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("want ErrNoChallenge for expired challenge, got %v", err)
	}
}

func TestVerifyRefusesPrivateAddress(t *testing.T) {
	store := storage.NewMemoryStore()
	v := New(store, config.RecoveryConfig{}, nil)
	svc := seedListing(t, store, "internal", "https://127.0.0.1:9/api")

	if err := store.SetDomainChallenge(context.Background(), svc.ID, "abcd", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SetDomainChallenge: %v", err)
	}

	svc, _ = store.GetServiceBySlug(context.Background(), "internal")
	if _, err := v.Verify(context.Background(), svc); !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("want ErrPrivateAddress, got %v", err)
	}
}

func TestPublicAddr(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"1.1.1.1", true},
		{"8.8.8.8", true},
		{"2607:f8b0::1", true},
		{"127.0.0.1", false},
		{"10.1.2.3", false},
		{"172.16.0.1", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"198.18.0.1", false},
		{"203.0.113.7", false},
		{"240.0.0.1", false},
		{"::1", false},
		{"fc00::1", false},
		{"fe80::1", false},
		{"2001:db8::1", false},
		{"::ffff:192.168.0.1", false},
	}
	for _, tc := range cases {
		addr := netip.MustParseAddr(tc.addr)
		if got := publicAddr(addr); got != tc.want {
			t.Errorf("publicAddr(%s) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestScreenHost(t *testing.T) {
	resolver := staticResolver{
		"public.example":   {netip.MustParseAddr("93.184.216.34")},
		"internal.example": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("10.0.0.5")},
	}
	ctx := context.Background()

	if err := screenHost(ctx, resolver, "public.example"); err != nil {
		t.Errorf("public host refused: %v", err)
	}
	if err := screenHost(ctx, resolver, "internal.example"); err == nil {
		t.Error("host with a private A record must be refused")
	}
	if err := screenHost(ctx, resolver, "unresolvable.example"); err == nil {
		t.Error("unresolvable host must be refused")
	}
	if err := screenHost(ctx, resolver, "169.254.169.254"); err == nil {
		t.Error("metadata endpoint literal must be refused")
	}
}
