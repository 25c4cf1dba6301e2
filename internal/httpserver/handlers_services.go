package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/satring/server/internal/errors"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/storage"
	"github.com/satring/server/internal/token"
	"github.com/satring/server/pkg/responders"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (h handlers) filterFromQuery(r *http.Request) storage.ServiceFilter {
	q := r.URL.Query()
	f := storage.ServiceFilter{
		Query:        strings.TrimSpace(q.Get("q")),
		CategorySlug: q.Get("category"),
		Status:       q.Get("status"),
		Sort:         q.Get("sort"),
		Page:         queryInt(r, "page", 1),
		PageSize:     queryInt(r, "page_size", 20),
	}
	if raw := q.Get("verified"); raw != "" {
		verified := raw == "true" || raw == "1"
		f.Verified = &verified
	}
	return f
}

// listServices serves GET /api/v1/services.
func (h handlers) listServices(w http.ResponseWriter, r *http.Request) {
	f := h.filterFromQuery(r)
	services, total, err := h.store.ListServices(r.Context(), f)
	if err != nil {
		h.internalError(w, r, "list services", err)
		return
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	responders.JSON(w, http.StatusOK, listResponse{
		Services: serviceViews(services),
		Total:    total,
		Page:     page,
		PageSize: size,
	})
}

// search serves GET /api/v1/search. Same shape as listServices but requires
// a query term.
func (h handlers) search(w http.ResponseWriter, r *http.Request) {
	f := h.filterFromQuery(r)
	if f.Query == "" {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, "Query parameter q is required")
		return
	}
	h.listServices(w, r)
}

// getService serves GET /api/v1/services/{slug}.
func (h handlers) getService(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}
	responders.JSON(w, http.StatusOK, serviceView(svc))
}

// bulkExport serves GET /api/v1/services/bulk: every non-purged listing in
// one response, paid per export.
func (h handlers) bulkExport(w http.ResponseWriter, r *http.Request) {
	var all []servicePayload
	for page := 1; ; page++ {
		services, _, err := h.store.ListServices(r.Context(), storage.ServiceFilter{Page: page, PageSize: 100})
		if err != nil {
			h.internalError(w, r, "bulk export", err)
			return
		}
		all = append(all, serviceViews(services)...)
		if len(services) < 100 {
			break
		}
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"services": all,
		"total":    len(all),
	})
}

type createServiceRequest struct {
	Name              string  `json:"name"`
	URL               string  `json:"url"`
	Description       string  `json:"description"`
	PricingSats       int64   `json:"pricing_sats"`
	PricingModel      string  `json:"pricing_model"`
	Protocol          string  `json:"protocol"`
	OwnerName         string  `json:"owner_name"`
	OwnerContact      string  `json:"owner_contact"`
	LogoURL           string  `json:"logo_url"`
	CategoryIDs       []int64 `json:"category_ids"`
	ExistingEditToken string  `json:"existing_edit_token"`
}

// createService serves POST /api/v1/services. The L402 guard has already
// admitted payment by the time this runs.
func (h handlers) createService(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req createServiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	if verr := validateListing(listingInput{
		Name:         req.Name,
		URL:          req.URL,
		Description:  req.Description,
		PricingSats:  req.PricingSats,
		PricingModel: req.PricingModel,
		Protocol:     req.Protocol,
		OwnerName:    req.OwnerName,
		OwnerContact: req.OwnerContact,
		LogoURL:      req.LogoURL,
	}); verr != nil {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, verr.Error())
		return
	}

	categories, err := h.store.CategoriesByIDs(r.Context(), req.CategoryIDs)
	if err != nil {
		h.internalError(w, r, "resolve categories", err)
		return
	}

	// A returning owner can link the new listing to an existing same-domain
	// listing's edit token instead of receiving a fresh one.
	domain := storage.EffectiveDomain(req.URL)
	editToken := ""
	editTokenHash := ""
	domainVerified := false
	tokenReused := false
	if req.ExistingEditToken != "" {
		siblings, err := h.store.ServicesByDomain(r.Context(), domain)
		if err != nil {
			h.internalError(w, r, "lookup domain siblings", err)
			return
		}
		for _, sibling := range siblings {
			if sibling.EditTokenHash != "" && token.Verify(req.ExistingEditToken, sibling.EditTokenHash) {
				editToken = req.ExistingEditToken
				editTokenHash = sibling.EditTokenHash
				domainVerified = sibling.DomainVerified
				tokenReused = true
				break
			}
		}
		if !tokenReused {
			apierrors.WriteError(w, apierrors.ErrCodeInvalidEditToken, "Invalid edit token")
			return
		}
	}

	if editTokenHash == "" {
		editToken, err = token.Mint()
		if err != nil {
			h.internalError(w, r, "mint edit token", err)
			return
		}
		editTokenHash = token.Hash(editToken)
	}

	svc := &storage.Service{
		Name:           req.Name,
		URL:            req.URL,
		Description:    req.Description,
		PricingSats:    req.PricingSats,
		PricingModel:   req.PricingModel,
		Protocol:       req.Protocol,
		OwnerName:      req.OwnerName,
		OwnerContact:   req.OwnerContact,
		LogoURL:        req.LogoURL,
		EditTokenHash:  editTokenHash,
		DomainVerified: domainVerified,
		Status:         storage.StatusUnverified,
		Categories:     categories,
	}

	slug, err := h.uniqueSlug(r, req.Name)
	if err != nil {
		h.internalError(w, r, "assign slug", err)
		return
	}
	svc.Slug = slug

	// A purged listing with the same URL is resurrected in place so its
	// rating history carries over.
	if purged, err := h.store.GetPurgedServiceByURL(r.Context(), req.URL); err == nil {
		svc.ID = purged.ID
		err = h.store.ReplacePurgedService(r.Context(), svc)
		if err != nil {
			h.internalError(w, r, "replace purged listing", err)
			return
		}
	} else if errors.Is(err, storage.ErrNotFound) {
		if err := h.store.CreateService(r.Context(), svc); err != nil {
			h.internalError(w, r, "create listing", err)
			return
		}
	} else {
		h.internalError(w, r, "check purged listing", err)
		return
	}

	log.Info().
		Str("slug", svc.Slug).
		Str("domain", svc.Domain).
		Bool("token_reused", tokenReused).
		Msg("listing created")

	responders.JSON(w, http.StatusCreated, map[string]interface{}{
		"service":    serviceView(*svc),
		"edit_token": editToken,
	})
}

// uniqueSlug derives the slug from the name, suffixing -2, -3, ... on
// collision.
func (h handlers) uniqueSlug(r *http.Request, name string) (string, error) {
	base := slugify(name)
	slug := base
	for i := 2; ; i++ {
		exists, err := h.store.SlugExists(r.Context(), slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

type updateServiceRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	PricingSats  *int64  `json:"pricing_sats"`
	PricingModel *string `json:"pricing_model"`
	Protocol     *string `json:"protocol"`
	OwnerName    *string `json:"owner_name"`
	OwnerContact *string `json:"owner_contact"`
	LogoURL      *string `json:"logo_url"`
	Status       *string `json:"status"`
	CategoryIDs  []int64 `json:"category_ids"`
}

// updateService serves PATCH /api/v1/services/{slug}. The URL, and therefore
// the domain, is immutable; recovery semantics depend on it.
func (h handlers) updateService(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.authorizeEdit(w, r)
	if !ok {
		return
	}

	var req updateServiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name != nil {
		svc.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		svc.Description = *req.Description
	}
	if req.PricingSats != nil {
		svc.PricingSats = *req.PricingSats
	}
	if req.PricingModel != nil {
		svc.PricingModel = *req.PricingModel
	}
	if req.Protocol != nil {
		svc.Protocol = *req.Protocol
	}
	if req.OwnerName != nil {
		svc.OwnerName = *req.OwnerName
	}
	if req.OwnerContact != nil {
		svc.OwnerContact = *req.OwnerContact
	}
	if req.LogoURL != nil {
		svc.LogoURL = *req.LogoURL
	}
	if req.Status != nil {
		if verr := validateStatus(*req.Status); verr != nil {
			apierrors.WriteError(w, apierrors.ErrCodeBadInput, verr.Error())
			return
		}
		svc.Status = *req.Status
	}
	if req.CategoryIDs != nil {
		categories, err := h.store.CategoriesByIDs(r.Context(), req.CategoryIDs)
		if err != nil {
			h.internalError(w, r, "resolve categories", err)
			return
		}
		svc.Categories = categories
	}

	if verr := validateListing(listingInput{
		Name:         svc.Name,
		URL:          svc.URL,
		Description:  svc.Description,
		PricingSats:  svc.PricingSats,
		PricingModel: svc.PricingModel,
		Protocol:     svc.Protocol,
		OwnerName:    svc.OwnerName,
		OwnerContact: svc.OwnerContact,
		LogoURL:      svc.LogoURL,
	}); verr != nil {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, verr.Error())
		return
	}

	if err := h.store.UpdateService(r.Context(), &svc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteError(w, apierrors.ErrCodeServiceNotFound, "Service not found")
			return
		}
		h.internalError(w, r, "update listing", err)
		return
	}

	updated, err := h.store.GetServiceBySlug(r.Context(), svc.Slug)
	if err != nil {
		h.internalError(w, r, "reload listing", err)
		return
	}
	responders.JSON(w, http.StatusOK, serviceView(updated))
}

// deleteService serves DELETE /api/v1/services/{slug}: tombstone, never a
// hard delete.
func (h handlers) deleteService(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.authorizeEdit(w, r)
	if !ok {
		return
	}

	if err := h.store.PurgeService(r.Context(), svc.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteError(w, apierrors.ErrCodeServiceNotFound, "Service not found")
			return
		}
		h.internalError(w, r, "purge listing", err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("slug", svc.Slug).
		Msg("listing purged")
	w.WriteHeader(http.StatusNoContent)
}

// listCategories serves GET /api/v1/categories.
func (h handlers) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		h.internalError(w, r, "list categories", err)
		return
	}
	views := make([]categoryPayload, 0, len(categories))
	for _, c := range categories {
		views = append(views, categoryPayload{Name: c.Name, Slug: c.Slug, Description: c.Description})
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{"categories": views})
}

// loadService resolves {slug} to a live listing or writes a 404.
func (h handlers) loadService(w http.ResponseWriter, r *http.Request) (storage.Service, bool) {
	slug := chi.URLParam(r, "slug")
	svc, err := h.store.GetServiceBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteError(w, apierrors.ErrCodeServiceNotFound, "Service not found")
			return storage.Service{}, false
		}
		h.internalError(w, r, "load listing", err)
		return storage.Service{}, false
	}
	return svc, true
}

// authorizeEdit resolves {slug} and checks the X-Edit-Token header against the
// stored hash. A listing with no hash on record (post-purge edge) rejects all
// tokens.
func (h handlers) authorizeEdit(w http.ResponseWriter, r *http.Request) (storage.Service, bool) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return storage.Service{}, false
	}

	presented := r.Header.Get("X-Edit-Token")
	if presented == "" || svc.EditTokenHash == "" || !token.Verify(presented, svc.EditTokenHash) {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidEditToken, "Invalid edit token")
		return storage.Service{}, false
	}
	return svc, true
}

func (h handlers) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Str("op", op).Msg("request failed")
	apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
}
