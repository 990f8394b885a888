package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/chatelio/chatelio-backend/internal/apierr"
	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/principal"
	"github.com/chatelio/chatelio-backend/internal/repos"
	"github.com/chatelio/chatelio-backend/internal/types"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"

	principalCompany = "company"
	principalUser    = "user"
	principalGuest   = "guest"
)

// AccessClaims is the payload of both access and refresh tokens; TokenKind
// tells them apart so a refresh token can never pass as an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	PrincipalType string `json:"principal_type"`
	CompanyID     string `json:"company_id,omitempty"`
	TokenKind     string `json:"token_kind"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthService interface {
	RegisterCompany(ctx context.Context, name, email, password string) (*types.Company, *TokenPair, error)
	LoginCompany(ctx context.Context, email, password string) (*types.Company, *TokenPair, error)
	RegisterUser(ctx context.Context, companyID uuid.UUID, name, email string) (*types.CompanyUser, *TokenPair, error)
	LoginUser(ctx context.Context, companyID uuid.UUID, email string) (*types.CompanyUser, *TokenPair, error)
	CreateGuestSession(ctx context.Context, companyID uuid.UUID, ip, userAgent string) (*types.GuestSession, *TokenPair, error)
	// ConvertGuest upgrades a guest session into a registered user and moves
	// the session's chats over. Conversion is one-way; a second attempt on the
	// same session fails with a conflict.
	ConvertGuest(ctx context.Context, sessionID uuid.UUID, name, email string) (*types.CompanyUser, *TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// ResolvePrincipal verifies the token and re-checks the backing row, so a
	// suspended company, deleted user, or expired/converted session fails even
	// with a cryptographically valid token.
	ResolvePrincipal(ctx context.Context, accessToken string) (*principal.Principal, error)
}

type authService struct {
	db        *gorm.DB
	companies repos.CompanyRepo
	users     repos.CompanyUserRepo
	guests    repos.GuestSessionRepo
	chats     repos.ChatRepo

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	guestTTL   time.Duration
	log        *logger.Logger
}

func NewAuthService(
	db *gorm.DB,
	companies repos.CompanyRepo,
	users repos.CompanyUserRepo,
	guests repos.GuestSessionRepo,
	chats repos.ChatRepo,
	log *logger.Logger,
) (AuthService, error) {
	l := log.With("service", "auth")
	secret := utils.GetEnv("JWT_SECRET", "", l)
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return &authService{
		db:         db,
		companies:  companies,
		users:      users,
		guests:     guests,
		chats:      chats,
		secret:     []byte(secret),
		accessTTL:  time.Duration(utils.GetEnvAsInt("JWT_ACCESS_TTL_MIN", 30, l)) * time.Minute,
		refreshTTL: time.Duration(utils.GetEnvAsInt("JWT_REFRESH_TTL_HOURS", 24*7, l)) * time.Hour,
		guestTTL:   time.Duration(utils.GetEnvAsInt("GUEST_SESSION_TTL_HOURS", 24, l)) * time.Hour,
		log:        l,
	}, nil
}

func (s *authService) RegisterCompany(ctx context.Context, name, email, password string) (*types.Company, *TokenPair, error) {
	if name == "" || email == "" || len(password) < 8 {
		return nil, nil, apierr.ErrValidation
	}
	if _, err := s.companies.GetByEmail(ctx, nil, email); err == nil {
		return nil, nil, apierr.ErrConflict
	} else if !errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	company := &types.Company{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Status:       types.CompanyStatusActive,
	}
	if err := s.companies.Create(ctx, nil, company); err != nil {
		return nil, nil, err
	}

	pair, err := s.mintPair(principalCompany, company.ID.String(), company.ID.String())
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("company registered", "company_id", company.ID.String())
	return company, pair, nil
}

func (s *authService) LoginCompany(ctx context.Context, email, password string) (*types.Company, *TokenPair, error) {
	company, err := s.companies.GetByEmail(ctx, nil, email)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, apierr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}
	if company.Status != types.CompanyStatusActive {
		return nil, nil, apierr.ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(company.PasswordHash), []byte(password)) != nil {
		return nil, nil, apierr.ErrUnauthenticated
	}

	pair, err := s.mintPair(principalCompany, company.ID.String(), company.ID.String())
	if err != nil {
		return nil, nil, err
	}
	return company, pair, nil
}

func (s *authService) RegisterUser(ctx context.Context, companyID uuid.UUID, name, email string) (*types.CompanyUser, *TokenPair, error) {
	if name == "" || email == "" {
		return nil, nil, apierr.ErrValidation
	}
	if err := s.requireActiveCompany(ctx, companyID); err != nil {
		return nil, nil, err
	}
	if _, err := s.users.GetByEmail(ctx, nil, companyID, email); err == nil {
		return nil, nil, apierr.ErrConflict
	} else if !errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, err
	}

	user := &types.CompanyUser{
		ID:        uuid.New(),
		CompanyID: companyID,
		Email:     email,
		Name:      name,
	}
	if err := s.users.Create(ctx, nil, user); err != nil {
		return nil, nil, err
	}
	pair, err := s.mintPair(principalUser, user.ID.String(), companyID.String())
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *authService) LoginUser(ctx context.Context, companyID uuid.UUID, email string) (*types.CompanyUser, *TokenPair, error) {
	if err := s.requireActiveCompany(ctx, companyID); err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetByEmail(ctx, nil, companyID, email)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, apierr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.mintPair(principalUser, user.ID.String(), companyID.String())
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *authService) CreateGuestSession(ctx context.Context, companyID uuid.UUID, ip, userAgent string) (*types.GuestSession, *TokenPair, error) {
	if err := s.requireActiveCompany(ctx, companyID); err != nil {
		return nil, nil, err
	}
	session := &types.GuestSession{
		ID:        uuid.New(),
		CompanyID: companyID,
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: time.Now().Add(s.guestTTL),
	}
	if err := s.guests.Create(ctx, nil, session); err != nil {
		return nil, nil, err
	}
	pair, err := s.mintPair(principalGuest, session.ID.String(), companyID.String())
	if err != nil {
		return nil, nil, err
	}
	return session, pair, nil
}

func (s *authService) ConvertGuest(ctx context.Context, sessionID uuid.UUID, name, email string) (*types.CompanyUser, *TokenPair, error) {
	if name == "" || email == "" {
		return nil, nil, apierr.ErrValidation
	}
	session, err := s.guests.GetByID(ctx, nil, sessionID)
	if errors.Is(err, apierr.ErrNotFound) {
		return nil, nil, apierr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}
	if session.Converted {
		return nil, nil, apierr.ErrConflict
	}
	if !session.ExpiresAt.After(time.Now()) {
		return nil, nil, apierr.ErrUnauthenticated
	}

	var user *types.CompanyUser
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The conditional flip decides the winner under concurrency; losers
		// see ErrConflict and nothing else in the tx happened.
		if err := s.guests.MarkConverted(ctx, tx, sessionID); err != nil {
			return err
		}
		existing, err := s.users.GetByEmail(ctx, tx, session.CompanyID, email)
		switch {
		case err == nil:
			user = existing
		case errors.Is(err, apierr.ErrNotFound):
			user = &types.CompanyUser{
				ID:        uuid.New(),
				CompanyID: session.CompanyID,
				Email:     email,
				Name:      name,
			}
			if err := s.users.Create(ctx, tx, user); err != nil {
				return err
			}
		default:
			return err
		}
		// Re-home the session's chats onto the new user.
		return tx.Model(&types.Chat{}).
			Where("session_id = ? AND company_id = ?", sessionID, session.CompanyID).
			Updates(map[string]any{
				"user_id":    user.ID,
				"session_id": nil,
				"is_guest":   false,
			}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.mintPair(principalUser, user.ID.String(), session.CompanyID.String())
	if err != nil {
		return nil, nil, err
	}
	s.log.Info("guest converted", "session_id", sessionID.String(), "user_id", user.ID.String())
	return user, pair, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenKind != tokenKindRefresh {
		return nil, apierr.ErrUnauthenticated
	}
	// Re-verify the backing entity before minting anything.
	if _, err := s.resolveClaims(ctx, claims); err != nil {
		return nil, err
	}
	return s.mintPair(claims.PrincipalType, claims.Subject, claims.CompanyID)
}

func (s *authService) ResolvePrincipal(ctx context.Context, accessToken string) (*principal.Principal, error) {
	claims, err := s.parse(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenKind != tokenKindAccess {
		return nil, apierr.ErrUnauthenticated
	}
	return s.resolveClaims(ctx, claims)
}

func (s *authService) resolveClaims(ctx context.Context, claims *AccessClaims) (*principal.Principal, error) {
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apierr.ErrUnauthenticated
	}

	switch claims.PrincipalType {
	case principalCompany:
		company, err := s.companies.GetByID(ctx, nil, subject)
		if err != nil || company.Status != types.CompanyStatusActive {
			return nil, apierr.ErrUnauthenticated
		}
		return &principal.Principal{Kind: principal.KindCompany, CompanyID: company.ID, OwnerID: company.ID, Email: company.Email}, nil

	case principalUser:
		companyID, err := uuid.Parse(claims.CompanyID)
		if err != nil {
			return nil, apierr.ErrUnauthenticated
		}
		user, err := s.users.GetByID(ctx, nil, subject)
		if err != nil || user.CompanyID != companyID {
			return nil, apierr.ErrUnauthenticated
		}
		return &principal.Principal{Kind: principal.KindUser, CompanyID: companyID, OwnerID: user.ID, Email: user.Email}, nil

	case principalGuest:
		companyID, err := uuid.Parse(claims.CompanyID)
		if err != nil {
			return nil, apierr.ErrUnauthenticated
		}
		session, err := s.guests.GetByID(ctx, nil, subject)
		if err != nil || session.CompanyID != companyID || !session.Live(time.Now()) {
			return nil, apierr.ErrUnauthenticated
		}
		return &principal.Principal{Kind: principal.KindGuest, CompanyID: companyID, OwnerID: session.ID}, nil
	}
	return nil, apierr.ErrUnauthenticated
}

func (s *authService) requireActiveCompany(ctx context.Context, companyID uuid.UUID) error {
	company, err := s.companies.GetByID(ctx, nil, companyID)
	if errors.Is(err, apierr.ErrNotFound) {
		return apierr.ErrNotFound
	}
	if err != nil {
		return err
	}
	if company.Status != types.CompanyStatusActive {
		return apierr.ErrForbidden
	}
	return nil
}

func (s *authService) mintPair(principalType, subject, companyID string) (*TokenPair, error) {
	access, err := s.mint(principalType, subject, companyID, tokenKindAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.mint(principalType, subject, companyID, tokenKindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *authService) mint(principalType, subject, companyID, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PrincipalType: principalType,
		CompanyID:     companyID,
		TokenKind:     kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) parse(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apierr.ErrUnauthenticated
	}
	return &claims, nil
}
