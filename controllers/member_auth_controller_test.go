package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/config"
	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/routes"
)

var testDBSeq int64

type fakeNotifier struct {
	otps  []string
	links []string
}

func (f *fakeNotifier) SendOTP(to, otp string) error {
	f.otps = append(f.otps, otp)
	return nil
}

func (f *fakeNotifier) SendResetLink(to, link string) error {
	f.links = append(f.links, link)
	return nil
}

func newTestServer(t *testing.T) (*gin.Engine, *core.Engine, *fakeNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:ctltest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.Migrate(db))

	cfg := &config.Config{
		JWTSecret:          "test-secret",
		PinIterations:      1000,
		SessionIdleTTL:     time.Minute,
		QRSigningKey:       []byte("0123456789abcdef0123456789abcdef"),
		QRTokenTTL:         180 * time.Second,
		LinkTokenTTL:       10 * time.Minute,
		StageTTL:           5 * time.Minute,
		LockRules:          config.DefaultLockRules(),
		MerchantAppBaseURL: "https://app.example.com/scan",
	}
	engine := core.NewEngine(db, cfg)
	notifier := &fakeNotifier{}

	r := gin.New()
	routes.SetupRoutes(r, engine, cfg, notifier)
	return r, engine, notifier
}

func seedMember(t *testing.T, engine *core.Engine, email, memberID, pin string) {
	t.Helper()
	rec, err := engine.Vault.NewRecord(pin)
	require.NoError(t, err)
	require.NoError(t, engine.DB.Create(&models.Member{
		Email: email, MemberID: memberID, IsVerified: true, Credential: rec,
	}).Error)
}

func postJSON(r *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMemberSigninSuccess(t *testing.T) {
	r, engine, _ := newTestServer(t)
	seedMember(t, engine, "a@b.com", "MBR-AAAA1111", "123456")

	w := postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "A@B.com", "pin": "123456"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	sid := data["sessionId"].(string)
	assert.Equal(t, "MBR-AAAA1111", data["memberId"])

	// The session works against the member surface.
	w = getJSON(r, "/api/v1/members/balance", map[string]string{"Authorization": "Bearer " + sid})
	require.Equal(t, http.StatusOK, w.Code)

	// Signout kills it.
	w = postJSON(r, "/api/v1/members/signout", nil, map[string]string{"Authorization": "Bearer " + sid})
	require.Equal(t, http.StatusOK, w.Code)
	w = getJSON(r, "/api/v1/members/balance", map[string]string{"Authorization": "Bearer " + sid})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemberSigninGenericFailures(t *testing.T) {
	r, engine, _ := newTestServer(t)
	seedMember(t, engine, "a@b.com", "MBR-AAAA1111", "123456")

	// Unknown account and wrong PIN produce the same message.
	wrongPin := postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "a@b.com", "pin": "000000"}, nil)
	unknown := postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "nobody@b.com", "pin": "000000"}, nil)

	require.Equal(t, http.StatusUnauthorized, wrongPin.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, decodeBody(t, wrongPin)["message"], decodeBody(t, unknown)["message"])
}

func TestMemberSigninLockout(t *testing.T) {
	r, engine, _ := newTestServer(t)
	seedMember(t, engine, "a@b.com", "MBR-AAAA1111", "123456")

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = postJSON(r, "/api/v1/members/signin",
			gin.H{"email": "a@b.com", "pin": "000000"}, nil)
		require.Equal(t, http.StatusUnauthorized, last.Code)
	}

	body := decodeBody(t, last)
	lock := body["data"].(map[string]interface{})["lock"].(map[string]interface{})
	assert.True(t, lock["locked"].(bool))
	assert.Equal(t, float64(5), lock["failCount"])

	// The correct PIN is refused while locked.
	w := postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "a@b.com", "pin": "123456"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Bad PIN format counts as a failure too.
	w = postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "c@d.com", "pin": "12"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = getJSON(r, "/api/v1/members/lock-info?email=c@d.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decodeBody(t, w)["data"].(map[string]interface{})["lock"].(map[string]interface{})
	assert.Equal(t, float64(1), info["failCount"])
}

func TestRegistrationFlow(t *testing.T) {
	r, engine, notifier := newTestServer(t)

	w := postJSON(r, "/api/v1/members/register", gin.H{
		"email": "new@b.com", "pin": "123456", "firstName": "New",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pendingID := decodeBody(t, w)["data"].(map[string]interface{})["pendingId"].(string)
	require.Len(t, notifier.otps, 1)

	// Wrong OTP is refused.
	w = postJSON(r, "/api/v1/members/register/verify",
		gin.H{"pendingId": pendingID, "otp": "000000"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(r, "/api/v1/members/register/verify",
		gin.H{"pendingId": pendingID, "otp": notifier.otps[0]}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	memberID := decodeBody(t, w)["data"].(map[string]interface{})["memberId"].(string)

	// The new member can sign in with the staged PIN.
	w = postJSON(r, "/api/v1/members/signin",
		gin.H{"email": "new@b.com", "pin": "123456"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var member models.Member
	require.NoError(t, engine.DB.Where("member_id = ?", memberID).First(&member).Error)
	assert.True(t, member.IsVerified)

	// Re-registering the same email fails.
	w = postJSON(r, "/api/v1/members/register",
		gin.H{"email": "new@b.com", "pin": "123456"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPinResetFlow(t *testing.T) {
	r, engine, notifier := newTestServer(t)
	seedMember(t, engine, "a@b.com", "MBR-AAAA1111", "123456")

	w := postJSON(r, "/api/v1/members/reset/request", gin.H{"email": "a@b.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, notifier.links, 1)

	// The same response for an unknown email.
	w = postJSON(r, "/api/v1/members/reset/request", gin.H{"email": "nobody@b.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, notifier.links, 1)

	var token models.ResetToken
	require.NoError(t, engine.DB.First(&token).Error)

	w = postJSON(r, "/api/v1/members/reset/confirm",
		gin.H{"token": token.Token, "newPin": "654321"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Old PIN out, new PIN in.
	w = postJSON(r, "/api/v1/members/signin", gin.H{"email": "a@b.com", "pin": "123456"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = postJSON(r, "/api/v1/members/signin", gin.H{"email": "a@b.com", "pin": "654321"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The token is one-time.
	w = postJSON(r, "/api/v1/members/reset/confirm",
		gin.H{"token": token.Token, "newPin": "111111"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
