package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/cryptobox"
)

const identityColumns = `id, email, password_hash, display_name, role, email_verified,
	two_factor_secret, two_factor_enabled, picture_url, preferred_language, created_at, updated_at`

// IdentityRepository stores identities. The TOTP secret is sealed with
// the Box before it reaches the table and opened on read.
type IdentityRepository struct {
	db  *sql.DB
	box *cryptobox.Box
	now func() time.Time
}

// NewIdentityRepository returns a repository over db.
func NewIdentityRepository(db *sql.DB, box *cryptobox.Box) *IdentityRepository {
	return &IdentityRepository{db: db, box: box, now: time.Now}
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*authcore.Identity, error) {
	return r.get(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*authcore.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, authcore.ErrIdentityNotFound
	}
	return r.get(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

func (r *IdentityRepository) get(ctx context.Context, query string, arg string) (*authcore.Identity, error) {
	identity, err := r.scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrIdentityNotFound
		}
		return nil, err
	}

	identity.BackupCodeHashes, err = backupCodes(ctx, r.db, identity.ID)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (r *IdentityRepository) scan(row *sql.Row) (*authcore.Identity, error) {
	var (
		identity     authcore.Identity
		passwordHash sql.NullString
		sealed       sql.NullString
		role         string
	)
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&passwordHash,
		&identity.DisplayName,
		&role,
		&identity.EmailVerified,
		&sealed,
		&identity.TwoFactorEnabled,
		&identity.PictureURL,
		&identity.PreferredLanguage,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	identity.PasswordHash = passwordHash.String
	identity.Role = authcore.Role(role)

	if sealed.Valid && sealed.String != "" {
		secret, err := r.box.Decrypt(sealed.String)
		if err != nil {
			return nil, fmt.Errorf("open two-factor secret for %s: %w", identity.ID, err)
		}
		identity.TwoFactorSecret = secret
	}
	return &identity, nil
}

func (r *IdentityRepository) seal(secret string) (sql.NullString, error) {
	if secret == "" {
		return sql.NullString{}, nil
	}
	sealed, err := r.box.Encrypt(secret)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: sealed, Valid: true}, nil
}

// Create inserts identity, assigning ID and timestamps when unset. A taken
// email yields authcore.ErrAccountExists.
func (r *IdentityRepository) Create(ctx context.Context, identity *authcore.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	if identity.Role == "" {
		identity.Role = authcore.RoleUser
	}

	sealed, err := r.seal(identity.TwoFactorSecret)
	if err != nil {
		return err
	}

	err = WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (`+identityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			identity.ID,
			identity.Email,
			nullString(identity.PasswordHash),
			identity.DisplayName,
			string(identity.Role),
			identity.EmailVerified,
			sealed,
			identity.TwoFactorEnabled,
			identity.PictureURL,
			identity.PreferredLanguage,
			identity.CreatedAt,
			identity.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return replaceBackupCodes(ctx, tx, identity.ID, identity.BackupCodeHashes)
	})
	if isUniqueViolation(err) {
		return authcore.ErrAccountExists
	}
	return err
}

func (r *IdentityRepository) UpdatePicture(ctx context.Context, identityID, pictureURL string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET picture_url = $2, updated_at = $3 WHERE id = $1`,
		identityID, pictureURL, r.now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

// UpdatePasswordHash is a compare-and-set, so a rehash computed from an
// old read never overwrites a password reset that landed in between.
func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, identityID, oldHash, newHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2`,
		identityID, oldHash, newHash, r.now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateTwoFactor locks the row, checks the enabled flag and rewrites the
// two-factor columns and backup codes in one transaction.
func (r *IdentityRepository) UpdateTwoFactor(ctx context.Context, identityID string, u authcore.TwoFactorUpdate) (bool, error) {
	sealed, err := r.seal(u.Secret)
	if err != nil {
		return false, err
	}

	applied := false
	err = WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		var enabled bool
		err := tx.QueryRowContext(ctx,
			`SELECT two_factor_enabled FROM identities WHERE id = $1 FOR UPDATE`, identityID).Scan(&enabled)
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.ErrIdentityNotFound
		}
		if err != nil {
			return err
		}
		if enabled != u.WasEnabled {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE identities SET two_factor_secret = $2, two_factor_enabled = $3, updated_at = $4
			WHERE id = $1`,
			identityID, sealed, u.Enabled, r.now().UTC()); err != nil {
			return err
		}
		if err := replaceBackupCodes(ctx, tx, identityID, u.BackupCodeHashes); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// RemoveBackupCode deletes one hash. The single DELETE makes concurrent
// use of the same code succeed at most once.
func (r *IdentityRepository) RemoveBackupCode(ctx context.Context, identityID, hash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE identity_id = $1 AND code_hash = $2`, identityID, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func backupCodes(ctx context.Context, db DBTX, identityID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT code_hash FROM backup_codes WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func replaceBackupCodes(ctx context.Context, tx DBTX, identityID string, hashes []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (identity_id, code_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			identityID, h); err != nil {
			return err
		}
	}
	return nil
}
