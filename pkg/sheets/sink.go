package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-calls/pkg/models"
)

// ConnectionStore reads and updates a user's spreadsheet connection.
type ConnectionStore interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.SheetConnection, error)
	UpdateTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiry time.Time) error
}

// Sink delivers rows to a user's spreadsheet.
type Sink interface {
	// AppendRow appends one positional row. delivered is false with a nil error
	// when the user has no active destination. Failures are *DeliveryError and
	// are never retried here.
	AppendRow(ctx context.Context, userID uuid.UUID, values []string) (delivered bool, err error)
	// InitializeHeaders replaces row 1 with headers and styles it.
	InitializeHeaders(ctx context.Context, userID uuid.UUID, headers []string) error
	// Validate checks the stored credential can read the bound spreadsheet.
	Validate(ctx context.Context, userID uuid.UUID) (*SpreadsheetInfo, error)
}

// SinkConfig holds sink options.
type SinkConfig struct {
	RefreshLookahead time.Duration
	SheetName        string
}

type sink struct {
	store     ConnectionStore
	refresher TokenRefresher
	newAPI    APIFactory
	config    SinkConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewSink creates a Google Sheets sink.
func NewSink(store ConnectionStore, refresher TokenRefresher, newAPI APIFactory, cfg SinkConfig, logger *zap.Logger) Sink {
	return &sink{
		store:     store,
		refresher: refresher,
		newAPI:    newAPI,
		config:    cfg,
		now:       time.Now,
		logger:    logger.Named("sheets"),
	}
}

var _ Sink = (*sink)(nil)

func (s *sink) AppendRow(ctx context.Context, userID uuid.UUID, values []string) (bool, error) {
	conn, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return false, classify("append", fmt.Errorf("load connection: %w", err))
	}
	if !conn.IsActive() {
		s.logger.Warn("Spreadsheet not connected, skipping row delivery",
			zap.String("user_id", userID.String()))
		return false, nil
	}

	api, err := s.authorizedAPI(ctx, conn)
	if err != nil {
		return false, err
	}

	if err := api.AppendRow(ctx, conn.SpreadsheetID, s.config.SheetName, values); err != nil {
		de := classify("append", err)
		s.logger.Warn("Failed to append row",
			zap.String("user_id", userID.String()),
			zap.String("spreadsheet_id", conn.SpreadsheetID),
			zap.String("kind", string(de.Kind)),
			zap.Error(err))
		return false, de
	}

	s.logger.Debug("Row appended",
		zap.String("user_id", userID.String()),
		zap.String("spreadsheet_id", conn.SpreadsheetID),
		zap.Int("columns", len(values)))
	return true, nil
}

func (s *sink) InitializeHeaders(ctx context.Context, userID uuid.UUID, headers []string) error {
	conn, err := s.activeConnection(ctx, userID)
	if err != nil {
		return err
	}
	api, err := s.authorizedAPI(ctx, conn)
	if err != nil {
		return err
	}
	if err := api.SetHeaderRow(ctx, conn.SpreadsheetID, s.config.SheetName, headers); err != nil {
		return classify("set headers", err)
	}

	s.logger.Info("Spreadsheet headers initialized",
		zap.String("user_id", userID.String()),
		zap.String("spreadsheet_id", conn.SpreadsheetID),
		zap.Strings("headers", headers))
	return nil
}

func (s *sink) Validate(ctx context.Context, userID uuid.UUID) (*SpreadsheetInfo, error) {
	conn, err := s.activeConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	api, err := s.authorizedAPI(ctx, conn)
	if err != nil {
		return nil, err
	}
	info, err := api.GetSpreadsheet(ctx, conn.SpreadsheetID)
	if err != nil {
		return nil, classify("validate", err)
	}
	return info, nil
}

func (s *sink) activeConnection(ctx context.Context, userID uuid.UUID) (*models.SheetConnection, error) {
	conn, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if !conn.IsActive() {
		return nil, apperrors.ErrDestinationNotConfigured
	}
	return conn, nil
}

// authorizedAPI refreshes the access token when it expires within the
// lookahead, persists the new token, and returns an API bound to it.
func (s *sink) authorizedAPI(ctx context.Context, conn *models.SheetConnection) (API, error) {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	}

	if conn.ExpiresWithin(s.now(), s.config.RefreshLookahead) {
		fresh, err := s.refresher.Refresh(ctx, conn.RefreshToken)
		if err != nil {
			s.logger.Warn("Failed to refresh spreadsheet credential",
				zap.String("user_id", conn.UserID.String()),
				zap.Error(err))
			return nil, &DeliveryError{Kind: KindAuth, Op: "refresh", Err: err}
		}
		if err := s.store.UpdateTokens(ctx, conn.UserID, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
			return nil, classify("refresh", fmt.Errorf("persist refreshed token: %w", err))
		}
		s.logger.Debug("Spreadsheet credential refreshed",
			zap.String("user_id", conn.UserID.String()),
			zap.Time("expiry", fresh.Expiry))
		token = fresh
	}

	api, err := s.newAPI(ctx, token)
	if err != nil {
		return nil, classify("connect", err)
	}
	return api, nil
}
