package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mnemoforge/authcore"
)

// TokenRepository stores single-use verification tokens.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Replace deletes the identity's tokens of the same type and inserts
// token in one transaction.
func (r *TokenRepository) Replace(ctx context.Context, token authcore.VerificationToken) error {
	return WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM verification_tokens WHERE identity_id = $1 AND type = $2`,
			token.IdentityID, string(token.Type)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verification_tokens (id, identity_id, token, type, expires_at, requester_ip, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			token.ID, token.IdentityID, token.Token, string(token.Type),
			token.ExpiresAt, token.RequesterIP, token.CreatedAt,
		)
		return err
	})
}

func (r *TokenRepository) Lookup(ctx context.Context, token string, typ authcore.VerificationTokenType, now time.Time) (*authcore.VerificationToken, error) {
	vt := authcore.VerificationToken{Token: token, Type: typ}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, expires_at, requester_ip, created_at
		FROM verification_tokens
		WHERE token = $1 AND type = $2 AND used_at IS NULL AND expires_at > $3`,
		token, string(typ), now,
	).Scan(&vt.ID, &vt.IdentityID, &vt.ExpiresAt, &vt.RequesterIP, &vt.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrVerificationTokenNotFound
		}
		return nil, err
	}
	return &vt, nil
}

// ConsumeEmailVerification marks the token used, verifies the identity and
// removes its other verification tokens.
func (r *TokenRepository) ConsumeEmailVerification(ctx context.Context, token string, now time.Time) (string, error) {
	return r.consume(ctx, token, authcore.TokenEmailVerification, now, func(ctx context.Context, tx DBTX, identityID string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE identities SET email_verified = TRUE, updated_at = $2 WHERE id = $1`,
			identityID, now)
		return err
	})
}

// ConsumePasswordReset stores newHash and marks the token used together.
func (r *TokenRepository) ConsumePasswordReset(ctx context.Context, token, newHash string, now time.Time) (string, error) {
	return r.consume(ctx, token, authcore.TokenPasswordReset, now, func(ctx context.Context, tx DBTX, identityID string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			identityID, newHash, now)
		return err
	})
}

// consume locks the one usable row for token, applies fn and marks the
// token used. Everything happens in one transaction.
func (r *TokenRepository) consume(
	ctx context.Context,
	token string,
	typ authcore.VerificationTokenType,
	now time.Time,
	apply func(ctx context.Context, tx DBTX, identityID string) error,
) (string, error) {
	var identityID string
	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx, `
			SELECT id, identity_id FROM verification_tokens
			WHERE token = $1 AND type = $2 AND used_at IS NULL AND expires_at > $3
			FOR UPDATE`,
			token, string(typ), now,
		).Scan(&id, &identityID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return authcore.ErrVerificationTokenNotFound
			}
			return err
		}

		if err := apply(ctx, tx, identityID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE verification_tokens SET used_at = $2 WHERE id = $1`, id, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM verification_tokens WHERE identity_id = $1 AND type = $2 AND id <> $3`,
			identityID, string(typ), id)
		return err
	})
	if err != nil {
		return "", err
	}
	return identityID, nil
}
