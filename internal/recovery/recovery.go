// Package recovery implements edit token recovery by proof of domain
// control. The listing owner publishes a server-issued challenge at a
// well-known path on the listing's domain; a successful verification rotates
// the edit token for every listing on that domain.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/metrics"
	"github.com/satring/server/internal/storage"
	"github.com/satring/server/internal/token"
)

// WellKnownPath is where the challenge must be published on the listing's
// domain.
const WellKnownPath = "/.well-known/satring-verify"

var (
	// ErrNoChallenge means verification was requested with no unexpired
	// challenge on record.
	ErrNoChallenge = errors.New("recovery: no active challenge")

	// ErrPrivateAddress means the listing's domain resolves to a non-public
	// address and was never contacted.
	ErrPrivateAddress = errors.New("recovery: domain resolves to a non-public address")

	// ErrUnreachable means the well-known fetch failed at the transport
	// level or returned a non-200.
	ErrUnreachable = errors.New("recovery: domain unreachable")

	// ErrMismatch means the fetch succeeded but the published value does not
	// match the challenge.
	ErrMismatch = errors.New("recovery: challenge mismatch")
)

// Challenge is what the caller must publish, and until when.
type Challenge struct {
	Value     string
	Path      string
	ExpiresAt time.Time
}

// Result reports a successful verification: the replacement edit token and
// every listing it now controls.
type Result struct {
	NewEditToken string
	Slugs        []string
}

// Verifier issues and verifies domain control challenges.
type Verifier struct {
	store        storage.Store
	metrics      *metrics.Metrics
	challengeTTL time.Duration
	httpClient   *http.Client
	resolver     Resolver

	// allowPrivate disables the address screen. Tests only.
	allowPrivate bool
}

// New builds a Verifier from config. The HTTP client follows no redirects and
// refuses to dial non-public addresses.
func New(store storage.Store, cfg config.RecoveryConfig, m *metrics.Metrics) *Verifier {
	ttl := cfg.ChallengeTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	timeout := cfg.VerifyTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	return &Verifier{
		store:        store,
		metrics:      m,
		challengeTTL: ttl,
		resolver:     net.DefaultResolver,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext:           guardedDialContext(dialer),
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          4,
			},
		},
	}
}

// Issue generates a fresh challenge for the listing and stores it, replacing
// any previous one.
func (v *Verifier) Issue(ctx context.Context, svc storage.Service) (Challenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Challenge{}, fmt.Errorf("read random: %w", err)
	}
	value := hex.EncodeToString(raw)
	expiresAt := time.Now().UTC().Add(v.challengeTTL)

	if err := v.store.SetDomainChallenge(ctx, svc.ID, value, expiresAt); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}

	if v.metrics != nil {
		v.metrics.ObserveRecoveryChallenge()
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("slug", svc.Slug).
		Str("domain", svc.Domain).
		Time("expires_at", expiresAt).
		Msg("domain recovery challenge issued")

	return Challenge{Value: value, Path: WellKnownPath, ExpiresAt: expiresAt}, nil
}

// Verify fetches the well-known path on the listing's domain, compares the
// published value to the stored challenge, and on success rotates the edit
// token for every listing on the domain. The address screen runs before any
// outbound request.
func (v *Verifier) Verify(ctx context.Context, svc storage.Service) (Result, error) {
	log := logger.FromContext(ctx)

	if svc.DomainChallenge == "" || svc.DomainChallengeExpiresAt == nil {
		v.observe("expired")
		return Result{}, ErrNoChallenge
	}
	if time.Now().After(*svc.DomainChallengeExpiresAt) {
		v.observe("expired")
		return Result{}, ErrNoChallenge
	}

	target, err := verifyURL(svc.URL)
	if err != nil {
		v.observe("unreachable")
		return Result{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if !v.allowPrivate {
		if err := screenHost(ctx, v.resolver, target.Hostname()); err != nil {
			v.observe("private")
			log.Warn().Err(err).Str("domain", svc.Domain).Msg("recovery verify refused by address screen")
			return Result{}, fmt.Errorf("%w: %v", ErrPrivateAddress, err)
		}
	}

	published, err := v.fetchChallenge(ctx, target.String())
	if err != nil {
		v.observe("unreachable")
		log.Warn().Err(err).Str("domain", svc.Domain).Msg("recovery verify fetch failed")
		return Result{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if strings.TrimSpace(published) != svc.DomainChallenge {
		v.observe("mismatch")
		log.Warn().Str("domain", svc.Domain).Msg("recovery verify value mismatch")
		return Result{}, ErrMismatch
	}

	newToken, err := token.Mint()
	if err != nil {
		return Result{}, fmt.Errorf("mint token: %w", err)
	}
	slugs, err := v.store.RotateDomainTokens(ctx, svc.Domain, token.Hash(newToken), svc.ID)
	if err != nil {
		return Result{}, fmt.Errorf("rotate tokens: %w", err)
	}

	if v.metrics != nil {
		v.metrics.ObserveRecoveryVerify("ok", len(slugs))
	}
	log.Info().
		Str("domain", svc.Domain).
		Int("listings", len(slugs)).
		Msg("domain recovery verified, edit token rotated")

	return Result{NewEditToken: newToken, Slugs: slugs}, nil
}

// verifyURL builds the well-known URL from the listing URL: same scheme and
// host, fixed path, nothing else carried over.
func verifyURL(listingURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(listingURL))
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("listing url has no host")
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: WellKnownPath}, nil
}

func (v *Verifier) fetchChallenge(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "satring-verify/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

func (v *Verifier) observe(outcome string) {
	if v.metrics != nil {
		v.metrics.ObserveRecoveryVerify(outcome, 0)
	}
}
