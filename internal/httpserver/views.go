package httpserver

import (
	"time"

	"github.com/satring/server/internal/storage"
)

// servicePayload is the boundary view of a listing. Custody fields
// (edit_token_hash, domain_challenge) have no representation here and can
// never leak.
type servicePayload struct {
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	URL            string            `json:"url"`
	Description    string            `json:"description"`
	PricingSats    int64             `json:"pricing_sats"`
	PricingModel   string            `json:"pricing_model"`
	Protocol       string            `json:"protocol"`
	OwnerName      string            `json:"owner_name,omitempty"`
	OwnerContact   string            `json:"owner_contact,omitempty"`
	LogoURL        string            `json:"logo_url,omitempty"`
	DomainVerified bool              `json:"domain_verified"`
	AvgRating      float64           `json:"avg_rating"`
	RatingCount    int               `json:"rating_count"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Categories     []categoryPayload `json:"categories"`
}

type categoryPayload struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
}

type ratingPayload struct {
	Score        int       `json:"score"`
	Comment      string    `json:"comment,omitempty"`
	ReviewerName string    `json:"reviewer_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type listResponse struct {
	Services []servicePayload `json:"services"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func serviceView(svc storage.Service) servicePayload {
	cats := make([]categoryPayload, 0, len(svc.Categories))
	for _, c := range svc.Categories {
		cats = append(cats, categoryPayload{Name: c.Name, Slug: c.Slug, Description: c.Description})
	}
	return servicePayload{
		Name:           svc.Name,
		Slug:           svc.Slug,
		URL:            svc.URL,
		Description:    svc.Description,
		PricingSats:    svc.PricingSats,
		PricingModel:   svc.PricingModel,
		Protocol:       svc.Protocol,
		OwnerName:      svc.OwnerName,
		OwnerContact:   svc.OwnerContact,
		LogoURL:        svc.LogoURL,
		DomainVerified: svc.DomainVerified,
		AvgRating:      svc.AvgRating,
		RatingCount:    svc.RatingCount,
		Status:         svc.Status,
		CreatedAt:      svc.CreatedAt,
		UpdatedAt:      svc.UpdatedAt,
		Categories:     cats,
	}
}

func serviceViews(services []storage.Service) []servicePayload {
	out := make([]servicePayload, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceView(svc))
	}
	return out
}

func ratingViews(ratings []storage.Rating) []ratingPayload {
	out := make([]ratingPayload, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, ratingPayload{
			Score:        r.Score,
			Comment:      r.Comment,
			ReviewerName: r.ReviewerName,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out
}
