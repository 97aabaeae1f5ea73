package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"handoffdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	tokens := NewTokenIssuer(testSecret, time.Hour, time.Hour)

	raw, err := tokens.IssueAdmin("7", "Mai")
	require.NoError(t, err)
	claims, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, "7", claims.AdminID)
	assert.Equal(t, "Mai", claims.AdminName)

	raw, err = tokens.IssueUser("u1")
	require.NoError(t, err)
	claims, err = tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.Requester{UserID: "u1"}, claims.Requester())
}

func TestTokenIssuer_Rejects(t *testing.T) {
	tokens := NewTokenIssuer(testSecret, time.Hour, time.Hour)
	other := NewTokenIssuer("another-secret-another-secret-xx", time.Hour, time.Hour)

	raw, err := other.IssueGuest("g1")
	require.NoError(t, err)
	_, err = tokens.Parse(raw)
	assert.Error(t, err, "wrong secret")

	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, err = tokens.IssueGuest("g1")
	require.NoError(t, err)
	tokens.now = time.Now
	_, err = tokens.Parse(raw)
	assert.Error(t, err, "expired")

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "root",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	raw, err = forged.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = tokens.Parse(raw)
	assert.Error(t, err, "unknown role")

	noID := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	raw, err = noID.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = tokens.Parse(raw)
	assert.Error(t, err, "admin without id")
}

func TestClaims_Owns(t *testing.T) {
	guest := "g1"
	session := &models.HandoffSession{GuestID: &guest}

	assert.True(t, (&Claims{Role: RoleGuest, GuestID: "g1"}).Owns(session))
	assert.False(t, (&Claims{Role: RoleGuest, GuestID: "g2"}).Owns(session))
	assert.False(t, (&Claims{Role: RoleUser, UserID: "g1"}).Owns(session))
	assert.False(t, (&Claims{Role: RoleAdmin, AdminID: "g1"}).Owns(session))
}

func TestParticipantFor(t *testing.T) {
	admin := &Claims{Role: RoleAdmin, AdminID: "7", AdminName: "Mai"}
	guest := &Claims{Role: RoleGuest, GuestID: "g1"}

	p, err := participantFor(admin, "", "7")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)
	assert.Equal(t, "Mai", p.AdminName)

	_, err = participantFor(admin, "", "8")
	assert.Error(t, err)
	_, err = participantFor(admin, "c1", "")
	assert.Error(t, err)

	p, err = participantFor(guest, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, "user:c1", p.Key())
	assert.Equal(t, models.Requester{GuestID: "g1"}, p.Requester, "the socket is bound to the token's requester")

	_, err = participantFor(guest, "", "7")
	assert.Error(t, err)
	_, err = participantFor(guest, "", "")
	assert.Error(t, err)
}

func TestLanguage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]string{
		"":                      "",
		"en-US,en;q=0.9":        "en",
		"vi":                    "vi",
		"VI-vn;q=0.8, en;q=0.5": "vi",
	}
	for header, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/", nil)
		if header != "" {
			c.Request.Header.Set("Accept-Language", header)
		}
		assert.Equal(t, want, language(c), header)
	}
}
