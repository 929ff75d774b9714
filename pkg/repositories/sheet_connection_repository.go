package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/crypto"
	"github.com/ekaya-inc/ekaya-calls/pkg/database"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
	"github.com/ekaya-inc/ekaya-calls/pkg/sheets"
)

// SheetConnectionRepository stores each user's spreadsheet destination.
// OAuth tokens are sealed with the credential encryptor before they reach the database.
type SheetConnectionRepository interface {
	sheets.ConnectionStore

	// Save creates or replaces the user's connection.
	Save(ctx context.Context, conn *models.SheetConnection) error
}

type sheetConnectionRepository struct {
	encryptor *crypto.CredentialEncryptor
}

var _ SheetConnectionRepository = (*sheetConnectionRepository)(nil)

// NewSheetConnectionRepository creates a new sheet connection repository.
func NewSheetConnectionRepository(encryptor *crypto.CredentialEncryptor) SheetConnectionRepository {
	return &sheetConnectionRepository{encryptor: encryptor}
}

// GetByUser returns nil, nil when the user never connected a spreadsheet.
func (r *sheetConnectionRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*models.SheetConnection, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT user_id, connected, spreadsheet_id, spreadsheet_name,
		       access_token, refresh_token, token_expiry, updated_at
		FROM sheet_connections
		WHERE user_id = $1`

	var (
		c                     models.SheetConnection
		accessEnc, refreshEnc string
	)
	err := scope.Conn.QueryRow(ctx, query, userID).Scan(
		&c.UserID, &c.Connected, &c.SpreadsheetID, &c.SpreadsheetName,
		&accessEnc, &refreshEnc, &c.TokenExpiry, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sheet connection: %w", err)
	}

	c.AccessToken, c.RefreshToken, err = r.encryptor.DecryptPair(accessEnc, refreshEnc)
	if err != nil {
		return nil, fmt.Errorf("sheet connection for user %s: %w", userID, err)
	}
	return &c, nil
}

func (r *sheetConnectionRepository) UpdateTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	accessEnc, refreshEnc, err := r.encryptor.EncryptPair(accessToken, refreshToken)
	if err != nil {
		return err
	}

	var expiryArg *time.Time
	if !expiry.IsZero() {
		expiryArg = &expiry
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE sheet_connections
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = now()
		WHERE user_id = $1`,
		userID, accessEnc, refreshEnc, expiryArg)
	if err != nil {
		return fmt.Errorf("failed to update sheet tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sheetConnectionRepository) Save(ctx context.Context, conn *models.SheetConnection) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	accessEnc, refreshEnc, err := r.encryptor.EncryptPair(conn.AccessToken, conn.RefreshToken)
	if err != nil {
		return err
	}

	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO sheet_connections (user_id, connected, spreadsheet_id, spreadsheet_name,
		                               access_token, refresh_token, token_expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE SET
			connected = EXCLUDED.connected,
			spreadsheet_id = EXCLUDED.spreadsheet_id,
			spreadsheet_name = EXCLUDED.spreadsheet_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			updated_at = now()
		RETURNING updated_at`,
		conn.UserID, conn.Connected, conn.SpreadsheetID, conn.SpreadsheetName,
		accessEnc, refreshEnc, conn.TokenExpiry,
	).Scan(&conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save sheet connection: %w", err)
	}
	return nil
}
