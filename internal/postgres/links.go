package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mnemoforge/authcore"
)

// LinkRepository stores external identity links.
type LinkRepository struct {
	db *sql.DB
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) GetLink(ctx context.Context, identityID, provider string) (*authcore.ExternalLink, error) {
	link := authcore.ExternalLink{IdentityID: identityID, Provider: provider}
	err := r.db.QueryRowContext(ctx,
		`SELECT subject, created_at FROM external_links WHERE identity_id = $1 AND provider = $2`,
		identityID, provider,
	).Scan(&link.Subject, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// CreateLink inserts link. A concurrent insert for the same identity and
// provider wins; if it stored another subject the result is
// authcore.ErrOAuthSubjectMismatch.
func (r *LinkRepository) CreateLink(ctx context.Context, link authcore.ExternalLink) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO external_links (identity_id, provider, subject, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id, provider) DO NOTHING`,
		link.IdentityID, link.Provider, link.Subject, link.CreatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}

	existing, err := r.GetLink(ctx, link.IdentityID, link.Provider)
	if err != nil {
		return err
	}
	if existing.Subject != link.Subject {
		return authcore.ErrOAuthSubjectMismatch
	}
	return nil
}
