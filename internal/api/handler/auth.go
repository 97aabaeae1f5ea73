package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "handoffdesk"

	RoleGuest = "guest"
	RoleUser  = "user"
	RoleAdmin = "admin"

	claimsKey = "claims"
)

// Claims identify the caller. Guests carry GuestID, users UserID and admins
// AdminID; Subject mirrors whichever is set.
type Claims struct {
	Role      string `json:"role"`
	GuestID   string `json:"guestId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	AdminID   string `json:"adminId,omitempty"`
	AdminName string `json:"adminName,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Requester maps guest and user claims to a session requester.
func (c *Claims) Requester() models.Requester {
	return models.Requester{UserID: c.UserID, GuestID: c.GuestID}
}

// Owns reports whether the caller is the requester of the session.
func (c *Claims) Owns(s *models.HandoffSession) bool {
	r := s.Requester()
	switch c.Role {
	case RoleGuest:
		return c.GuestID != "" && c.GuestID == r.GuestID
	case RoleUser:
		return c.UserID != "" && c.UserID == r.UserID
	}
	return false
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret   []byte
	guestTTL time.Duration
	adminTTL time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret string, guestTTL, adminTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:   []byte(secret),
		guestTTL: guestTTL,
		adminTTL: adminTTL,
		now:      time.Now,
	}
}

func (t *TokenIssuer) sign(claims Claims, ttl time.Duration) (string, error) {
	now := t.now()
	claims.Issuer = issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *TokenIssuer) IssueGuest(guestID string) (string, error) {
	return t.sign(Claims{Role: RoleGuest, GuestID: guestID, RegisteredClaims: jwt.RegisteredClaims{Subject: guestID}}, t.guestTTL)
}

func (t *TokenIssuer) IssueUser(userID string) (string, error) {
	return t.sign(Claims{Role: RoleUser, UserID: userID, RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}, t.guestTTL)
}

func (t *TokenIssuer) IssueAdmin(adminID, adminName string) (string, error) {
	return t.sign(Claims{Role: RoleAdmin, AdminID: adminID, AdminName: adminName, RegisteredClaims: jwt.RegisteredClaims{Subject: adminID}}, t.adminTTL)
}

// Parse verifies a token and its role-specific identity.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}

	switch claims.Role {
	case RoleGuest:
		if claims.GuestID == "" {
			return nil, errors.New("guest token without guestId")
		}
	case RoleUser:
		if claims.UserID == "" {
			return nil, errors.New("user token without userId")
		}
	case RoleAdmin:
		if claims.AdminID == "" {
			return nil, errors.New("admin token without adminId")
		}
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// extractToken reads the token from the query (browsers cannot set headers on
// websocket upgrades) or from the Authorization header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// RequireAuth rejects requests without a valid token.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c.Request)
		if raw == "" {
			abortWithError(c, apperrors.Unauthorized("Missing authentication token"))
			return
		}
		claims, err := h.Tokens.Parse(raw)
		if err != nil {
			h.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("invalid token attempt")
			abortWithError(c, apperrors.InvalidToken("Invalid or expired token"))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func (h *Handler) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		for _, role := range roles {
			if claims != nil && claims.Role == role {
				c.Next()
				return
			}
		}
		abortWithError(c, apperrors.Forbidden("Insufficient permissions"))
	}
}

func claimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

// GetGuest issues a new guest identity with its token.
func (h *Handler) GetGuest(c *gin.Context) {
	guestID := uuid.New().String()

	token, err := h.Tokens.IssueGuest(guestID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to sign guest token")
		writeError(c, apperrors.Internal("Failed to create token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "guestId": guestID})
}
