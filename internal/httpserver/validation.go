package httpserver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field length limits enforced on listing and rating input.
const (
	maxNameLen         = 200
	maxURLLen          = 500
	maxDescriptionLen  = 5000
	maxOwnerNameLen    = 200
	maxOwnerContactLen = 300
	maxLogoURLLen      = 500
	maxReviewerNameLen = 200
	maxCommentLen      = 2000
	maxPricingSats     = 1_000_000
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify lowercases the name and collapses everything non-alphanumeric into
// single hyphens.
func slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "service"
	}
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	return slug
}

type validationError struct {
	field  string
	reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.reason)
}

func fieldTooLong(field string, max int) *validationError {
	return &validationError{field: field, reason: fmt.Sprintf("must be at most %d characters", max)}
}

func requireLen(field, value string, max int) *validationError {
	if utf8.RuneCountInString(value) > max {
		return fieldTooLong(field, max)
	}
	return nil
}

// validateListingURL accepts only absolute http/https URLs with a host.
// javascript: and data: schemes in particular must never reach storage.
func validateListingURL(field, raw string) *validationError {
	if raw == "" {
		return &validationError{field: field, reason: "is required"}
	}
	if err := requireLen(field, raw, maxURLLen); err != nil {
		return err
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &validationError{field: field, reason: "is not a valid URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &validationError{field: field, reason: "must use http or https"}
	}
	if parsed.Host == "" {
		return &validationError{field: field, reason: "must include a host"}
	}
	return nil
}

type listingInput struct {
	Name         string
	URL          string
	Description  string
	PricingSats  int64
	PricingModel string
	Protocol     string
	OwnerName    string
	OwnerContact string
	LogoURL      string
}

// validateListing checks every field limit and returns the first violation.
func validateListing(in listingInput) *validationError {
	if strings.TrimSpace(in.Name) == "" {
		return &validationError{field: "name", reason: "is required"}
	}
	if err := requireLen("name", in.Name, maxNameLen); err != nil {
		return err
	}
	if err := validateListingURL("url", in.URL); err != nil {
		return err
	}
	if err := requireLen("description", in.Description, maxDescriptionLen); err != nil {
		return err
	}
	if in.PricingSats < 0 {
		return &validationError{field: "pricing_sats", reason: "must not be negative"}
	}
	if in.PricingSats > maxPricingSats {
		return &validationError{field: "pricing_sats", reason: fmt.Sprintf("must be at most %d", maxPricingSats)}
	}
	if err := requireLen("owner_name", in.OwnerName, maxOwnerNameLen); err != nil {
		return err
	}
	if err := requireLen("owner_contact", in.OwnerContact, maxOwnerContactLen); err != nil {
		return err
	}
	if in.LogoURL != "" {
		if err := validateListingURL("logo_url", in.LogoURL); err != nil {
			return err
		}
		if err := requireLen("logo_url", in.LogoURL, maxLogoURLLen); err != nil {
			return err
		}
	}
	return nil
}

// clampScore forces a rating score into 1..5 instead of rejecting it.
func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}

var validStatuses = map[string]bool{
	"unverified": true,
	"live":       true,
	"dead":       true,
}

// validateStatus accepts the owner-settable statuses. "purged" is reachable
// only through deletion.
func validateStatus(status string) *validationError {
	if !validStatuses[status] {
		return &validationError{field: "status", reason: "must be one of unverified, live, dead"}
	}
	return nil
}
