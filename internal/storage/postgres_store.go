package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/satring/server/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens a PostgreSQL connection pool and ensures the schema
// exists.
func NewPostgresStore(connectionString string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() during failed init is not actionable; the ping error is
		// what the caller needs.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	applyPoolSettings(db, pool)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool. The caller keeps
// ownership of the pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func applyPoolSettings(db *sql.DB, pool config.PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := pool.ConnMaxLifetime.Duration
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS consumed_payments (
			payment_hash TEXT PRIMARY KEY,
			consumed_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS categories (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS services (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			domain TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			pricing_sats BIGINT NOT NULL DEFAULT 0,
			pricing_model TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT '',
			owner_name TEXT NOT NULL DEFAULT '',
			owner_contact TEXT NOT NULL DEFAULT '',
			logo_url TEXT NOT NULL DEFAULT '',
			edit_token_hash TEXT NOT NULL DEFAULT '',
			domain_challenge TEXT NOT NULL DEFAULT '',
			domain_challenge_expires_at TIMESTAMP,
			domain_verified BOOLEAN NOT NULL DEFAULT FALSE,
			avg_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			rating_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'unverified',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS service_categories (
			service_id BIGINT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
			category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			PRIMARY KEY (service_id, category_id)
		);

		CREATE TABLE IF NOT EXISTS ratings (
			id BIGSERIAL PRIMARY KEY,
			service_id BIGINT NOT NULL REFERENCES services(id),
			score INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
			comment TEXT NOT NULL DEFAULT '',
			reviewer_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_services_domain ON services(domain) WHERE status <> 'purged';
		CREATE INDEX IF NOT EXISTS idx_services_status ON services(status);
		CREATE INDEX IF NOT EXISTS idx_services_created ON services(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ratings_service ON ratings(service_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AdmitPayment inserts the payment hash. The primary key constraint decides
// first use; a unique violation is the replay signal, not an error.
func (s *PostgresStore) AdmitPayment(ctx context.Context, paymentHash string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumed_payments (payment_hash, consumed_at) VALUES ($1, NOW())`,
		paymentHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert consumed payment: %w", err)
	}
	return true, nil
}

const serviceColumns = `id, name, slug, url, domain, description, pricing_sats, pricing_model,
	protocol, owner_name, owner_contact, logo_url, edit_token_hash, domain_challenge,
	domain_challenge_expires_at, domain_verified, avg_rating, rating_count, status,
	created_at, updated_at`

func scanService(row interface{ Scan(...interface{}) error }) (Service, error) {
	var svc Service
	var expiresAt sql.NullTime
	err := row.Scan(
		&svc.ID, &svc.Name, &svc.Slug, &svc.URL, &svc.Domain, &svc.Description,
		&svc.PricingSats, &svc.PricingModel, &svc.Protocol, &svc.OwnerName,
		&svc.OwnerContact, &svc.LogoURL, &svc.EditTokenHash, &svc.DomainChallenge,
		&expiresAt, &svc.DomainVerified, &svc.AvgRating, &svc.RatingCount,
		&svc.Status, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		return Service{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		svc.DomainChallengeExpiresAt = &t
	}
	return svc, nil
}

func (s *PostgresStore) CreateService(ctx context.Context, svc *Service) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	svc.Domain = EffectiveDomain(svc.URL)
	svc.CreatedAt = now
	svc.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO services (name, slug, url, domain, description, pricing_sats,
			pricing_model, protocol, owner_name, owner_contact, logo_url,
			edit_token_hash, domain_verified, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		svc.Name, svc.Slug, svc.URL, svc.Domain, svc.Description, svc.PricingSats,
		svc.PricingModel, svc.Protocol, svc.OwnerName, svc.OwnerContact, svc.LogoURL,
		svc.EditTokenHash, svc.DomainVerified, svc.Status, now, now,
	).Scan(&svc.ID)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}

	if err := replaceCategoriesTx(ctx, tx, svc.ID, svc.Categories); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) ReplacePurgedService(ctx context.Context, svc *Service) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	svc.Domain = EffectiveDomain(svc.URL)
	svc.UpdatedAt = now

	res, err := tx.ExecContext(ctx, `
		UPDATE services SET
			name = $1, slug = $2, url = $3, domain = $4, description = $5,
			pricing_sats = $6, pricing_model = $7, protocol = $8,
			owner_name = $9, owner_contact = $10, logo_url = $11,
			edit_token_hash = $12, domain_challenge = '',
			domain_challenge_expires_at = NULL, domain_verified = $13,
			status = $14, updated_at = $15
		WHERE id = $16 AND status = 'purged'`,
		svc.Name, svc.Slug, svc.URL, svc.Domain, svc.Description,
		svc.PricingSats, svc.PricingModel, svc.Protocol,
		svc.OwnerName, svc.OwnerContact, svc.LogoURL,
		svc.EditTokenHash, svc.DomainVerified,
		svc.Status, now, svc.ID)
	if err != nil {
		return fmt.Errorf("replace purged service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := replaceCategoriesTx(ctx, tx, svc.ID, svc.Categories); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetServiceBySlug(ctx context.Context, slug string) (Service, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE slug = $1 AND status <> 'purged'`, slug)

	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return Service{}, ErrNotFound
	}
	if err != nil {
		return Service{}, err
	}
	if err := s.attachCategories(ctx, []*Service{&svc}); err != nil {
		return Service{}, err
	}
	return svc, nil
}

func (s *PostgresStore) GetPurgedServiceByURL(ctx context.Context, rawURL string) (Service, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE url = $1 AND status = 'purged'
		ORDER BY updated_at DESC
		LIMIT 1`, rawURL)

	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return Service{}, ErrNotFound
	}
	if err != nil {
		return Service{}, err
	}
	return svc, nil
}

func (s *PostgresStore) ListServices(ctx context.Context, f ServiceFilter) ([]Service, int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	where := []string{"s.status <> 'purged'"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "s.status = "+arg(f.Status))
	}
	if f.Verified != nil {
		where = append(where, "s.domain_verified = "+arg(*f.Verified))
	}
	if f.Query != "" {
		p := arg("%" + f.Query + "%")
		where = append(where, "(s.name ILIKE "+p+" OR s.description ILIKE "+p+")")
	}
	if f.CategorySlug != "" {
		where = append(where, `s.id IN (
			SELECT sc.service_id FROM service_categories sc
			JOIN categories c ON c.id = sc.category_id
			WHERE c.slug = `+arg(f.CategorySlug)+")")
	}
	whereClause := strings.Join(where, " AND ")

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM services s WHERE "+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count services: %w", err)
	}

	var order string
	switch f.Sort {
	case "top-rated":
		order = "s.avg_rating DESC, s.rating_count DESC, s.created_at DESC"
	case "cheapest":
		order = "s.pricing_sats ASC, s.created_at DESC"
	case "most-reviewed":
		order = "s.rating_count DESC, s.created_at DESC"
	default:
		order = "s.created_at DESC, s.id DESC"
	}

	page, size := normalizePage(f.Page, f.PageSize)
	limitArgs := append(args, size, (page-1)*size)
	query := fmt.Sprintf(`
		SELECT %s FROM services s
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		serviceColumns, whereClause, order, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	refs := make([]*Service, len(out))
	for i := range out {
		refs[i] = &out[i]
	}
	if err := s.attachCategories(ctx, refs); err != nil {
		return nil, 0, err
	}
	if out == nil {
		out = []Service{}
	}
	return out, total, nil
}

func (s *PostgresStore) UpdateService(ctx context.Context, svc *Service) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE services SET
			name = $1, description = $2, pricing_sats = $3, pricing_model = $4,
			protocol = $5, owner_name = $6, owner_contact = $7, logo_url = $8,
			status = $9, updated_at = NOW()
		WHERE id = $10 AND status <> 'purged'`,
		svc.Name, svc.Description, svc.PricingSats, svc.PricingModel,
		svc.Protocol, svc.OwnerName, svc.OwnerContact, svc.LogoURL,
		svc.Status, svc.ID)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := replaceCategoriesTx(ctx, tx, svc.ID, svc.Categories); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) PurgeService(ctx context.Context, id int64) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET
			status = 'purged', edit_token_hash = '',
			domain_challenge = '', domain_challenge_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status <> 'purged'`, id)
	if err != nil {
		return fmt.Errorf("purge service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM services WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("slug exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ServicesByDomain(ctx context.Context, domain string) ([]Service, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE domain = $1 AND status <> 'purged'
		ORDER BY id`, domain)
	if err != nil {
		return nil, fmt.Errorf("services by domain: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetDomainChallenge(ctx context.Context, id int64, challenge string, expiresAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET domain_challenge = $1, domain_challenge_expires_at = $2
		WHERE id = $3 AND status <> 'purged'`,
		challenge, expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("set domain challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateDomainTokens rotates custody for a whole domain in one transaction so
// a crash cannot leave some listings on the old token.
func (s *PostgresStore) RotateDomainTokens(ctx context.Context, domain, newHash string, recoveringID int64) ([]string, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		UPDATE services SET
			edit_token_hash = $1, domain_verified = TRUE, updated_at = NOW()
		WHERE domain = $2 AND status <> 'purged'
		RETURNING slug`, newHash, domain)
	if err != nil {
		return nil, fmt.Errorf("rotate tokens: %w", err)
	}

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			rows.Close()
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `
		UPDATE services SET domain_challenge = '', domain_challenge_expires_at = NULL
		WHERE id = $1`, recoveringID)
	if err != nil {
		return nil, fmt.Errorf("clear challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return slugs, nil
}

// CreateRating inserts the rating and recomputes the listing's denormalized
// aggregate in the same transaction.
func (s *PostgresStore) CreateRating(ctx context.Context, r *Rating) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM services WHERE id = $1 FOR UPDATE`, r.ServiceID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock service: %w", err)
	}
	if status == StatusPurged {
		return ErrNotFound
	}

	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ratings (service_id, score, comment, reviewer_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.ServiceID, r.Score, r.Comment, r.ReviewerName, now).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	r.CreatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE services SET
			avg_rating = sub.avg, rating_count = sub.cnt
		FROM (
			SELECT AVG(score)::DOUBLE PRECISION AS avg, COUNT(*) AS cnt
			FROM ratings WHERE service_id = $1
		) sub
		WHERE services.id = $1`, r.ServiceID)
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) ListRatings(ctx context.Context, serviceID int64, limit, offset int) ([]Rating, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, score, comment, reviewer_name, created_at
		FROM ratings
		WHERE service_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, serviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()

	out := []Rating{}
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.ServiceID, &r.Score, &r.Comment, &r.ReviewerName, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RatingDistribution(ctx context.Context, serviceID int64) (map[int]int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT score, COUNT(*)
		FROM ratings
		WHERE service_id = $1
		GROUP BY score`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("rating distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[int]int64)
	for rows.Next() {
		var score int
		var count int64
		if err := rows.Scan(&score, &count); err != nil {
			return nil, err
		}
		dist[score] = count
	}
	return dist, rows.Err()
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, description FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CategoriesByIDs(ctx context.Context, ids []int64) ([]Category, error) {
	if len(ids) == 0 {
		return []Category{}, nil
	}

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description
		FROM categories
		WHERE id = ANY($1)
		ORDER BY name`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("categories by ids: %w", err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c *Category) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, slug, description)
		VALUES ($1, $2, $3)
		RETURNING id`, c.Name, c.Slug, c.Description).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (s *PostgresStore) AnalyticsSummary(ctx context.Context) (Analytics, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var summary Analytics
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(rating_count), 0),
			COALESCE(AVG(pricing_sats), 0)
		FROM services
		WHERE status <> 'purged'`).Scan(
		&summary.TotalServices, &summary.TotalRatings, &summary.AvgPriceSats)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE status <> 'purged' AND rating_count > 0
		ORDER BY avg_rating DESC, rating_count DESC
		LIMIT 10`)
	if err != nil {
		return Analytics{}, fmt.Errorf("top rated: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return Analytics{}, err
		}
		summary.TopRated = append(summary.TopRated, svc)
	}
	return summary, rows.Err()
}

func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func replaceCategoriesTx(ctx context.Context, tx querier, serviceID int64, cats []Category) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM service_categories WHERE service_id = $1`, serviceID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for _, c := range cats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_categories (service_id, category_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, serviceID, c.ID); err != nil {
			return fmt.Errorf("attach category: %w", err)
		}
	}
	return nil
}

// attachCategories populates Categories on each service with one query.
func (s *PostgresStore) attachCategories(ctx context.Context, services []*Service) error {
	if len(services) == 0 {
		return nil
	}

	ids := make([]int64, len(services))
	byID := make(map[int64]*Service, len(services))
	for i, svc := range services {
		ids[i] = svc.ID
		byID[svc.ID] = svc
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.service_id, c.id, c.name, c.slug, c.description
		FROM service_categories sc
		JOIN categories c ON c.id = sc.category_id
		WHERE sc.service_id = ANY($1)
		ORDER BY c.name`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var serviceID int64
		var c Category
		if err := rows.Scan(&serviceID, &c.ID, &c.Name, &c.Slug, &c.Description); err != nil {
			return err
		}
		if svc, ok := byID[serviceID]; ok {
			svc.Categories = append(svc.Categories, c)
		}
	}
	return rows.Err()
}
