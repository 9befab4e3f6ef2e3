package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

const (
	signedVersion = "1"
	compactPrefix = "CB1."

	// A fresh one-time token is only minted if the member has no usable
	// token created within this window.
	linkReuseWindow = 60 * time.Second

	minSkewTTL = 30 * time.Second
	skewSlack  = 30 * time.Second
)

// TokenAuthority issues and verifies the two token families used for the
// member-device-to-till handoff: HMAC-signed stateless payloads and
// server-side one-time link tokens.
type TokenAuthority struct {
	db      *gorm.DB
	key     []byte
	qrTTL   time.Duration
	linkTTL time.Duration
	baseURL string
	now     func() time.Time
}

// NewTokenAuthority creates an authority with the server signing key.
func NewTokenAuthority(db *gorm.DB, key []byte, qrTTL, linkTTL time.Duration, baseURL string) *TokenAuthority {
	return &TokenAuthority{
		db:      db,
		key:     key,
		qrTTL:   qrTTL,
		linkTTL: linkTTL,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// TokenClaims is the normalized result of a successful verification.
type TokenClaims struct {
	MemberID    string
	Mode        string // "", COLLECT or REDEEM
	ExpiresAtMs int64
}

// SignedQR is a freshly issued signed payload plus the URL to embed it in.
type SignedQR struct {
	Payload     string
	URL         string
	ExpiresAtMs int64
	TTLSeconds  int
}

type signedEnvelope struct {
	V    int    `json:"v"`
	Mid  string `json:"mid"`
	Mode string `json:"mode"`
	Exp  int64  `json:"exp"`
	Sig  string `json:"sig"`
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (a *TokenAuthority) sign(canonical string) []byte {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

func canonicalString(memberID, mode string, expMs int64) string {
	return strings.Join([]string{signedVersion, memberID, mode, strconv.FormatInt(expMs, 10)}, "|")
}

// IssueSignedQR builds a signed stateless payload for a member. An empty
// mode means the staff picks COLLECT or REDEEM at the till.
func (a *TokenAuthority) IssueSignedQR(memberID, mode string) (*SignedQR, error) {
	if len(a.key) == 0 {
		return nil, fmt.Errorf("signing key not configured")
	}
	memberID = utils.NormalizeMemberID(memberID)
	if !utils.ValidateMemberID(memberID) {
		return nil, utils.ValidationError("Invalid member id", nil)
	}
	mode = strings.ToUpper(mode)
	if mode != "" && mode != models.ModeCollect && mode != models.ModeRedeem {
		return nil, utils.ValidationError("Invalid mode", nil)
	}

	expMs := a.now().Add(a.qrTTL).UnixMilli()
	sig := b64url(a.sign(canonicalString(memberID, mode, expMs)))

	env := signedEnvelope{V: 1, Mid: memberID, Mode: mode, Exp: expMs, Sig: sig}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	payload := b64url(raw)

	qr := &SignedQR{
		Payload:     payload,
		ExpiresAtMs: expMs,
		TTLSeconds:  int(a.qrTTL.Seconds()),
	}
	if a.baseURL != "" {
		sep := "?"
		if strings.Contains(a.baseURL, "?") {
			sep = "&"
		}
		qr.URL = a.baseURL + sep + "p=" + url.QueryEscape(payload)
	}
	return qr, nil
}

// maxFutureExpiry is the skew cap: even with a valid signature, an expiry
// further out than twice the configured TTL plus slack is rejected.
func (a *TokenAuthority) maxFutureExpiry() time.Duration {
	ttl := a.qrTTL
	if ttl < minSkewTTL {
		ttl = minSkewTTL
	}
	return 2*ttl + skewSlack
}

// VerifySigned verifies either transport of a signed payload: the compact
// "CB1.<member>.<exp>[.<nonce>].<sig>" string or the base64url JSON
// envelope. Signature comparison is constant time.
func (a *TokenAuthority) VerifySigned(payload string) (*TokenClaims, error) {
	if len(a.key) == 0 {
		return nil, fmt.Errorf("signing key not configured")
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, utils.TokenError("Invalid code", nil)
	}

	if strings.HasPrefix(payload, compactPrefix) {
		return a.verifyCompact(payload)
	}
	return a.verifyEnvelope(payload)
}

func (a *TokenAuthority) verifyCompact(payload string) (*TokenClaims, error) {
	parts := strings.Split(payload, ".")
	// CB1.MID.EXP.SIG or CB1.MID.EXP.NONCE.SIG
	if len(parts) != 4 && len(parts) != 5 {
		return nil, utils.TokenError("Invalid code", nil)
	}
	memberID := parts[1]
	expMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || expMs == 0 || !utils.ValidateMemberID(memberID) {
		return nil, utils.TokenError("Invalid code", nil)
	}
	sig := parts[len(parts)-1]

	// The compact transport never carries a mode.
	return a.checkSignature(memberID, "", expMs, sig)
}

func (a *TokenAuthority) verifyEnvelope(payload string) (*TokenClaims, error) {
	raw, err := b64urlDecode(payload)
	if err != nil {
		return nil, utils.TokenError("Invalid code", nil)
	}
	var env signedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, utils.TokenError("Invalid code", nil)
	}
	mode := strings.ToUpper(env.Mode)
	if mode != "" && mode != models.ModeCollect && mode != models.ModeRedeem {
		mode = ""
	}
	if env.V != 1 || !utils.ValidateMemberID(env.Mid) || env.Exp == 0 || env.Sig == "" {
		return nil, utils.TokenError("Invalid code", nil)
	}
	return a.checkSignature(env.Mid, mode, env.Exp, env.Sig)
}

func (a *TokenAuthority) checkSignature(memberID, mode string, expMs int64, sig string) (*TokenClaims, error) {
	nowMs := a.now().UnixMilli()
	if expMs <= nowMs {
		utils.TokenResolutionsTotal.WithLabelValues("signed", "expired").Inc()
		return nil, utils.TokenError("Code expired", nil)
	}
	if expMs-nowMs > a.maxFutureExpiry().Milliseconds() {
		utils.TokenResolutionsTotal.WithLabelValues("signed", "skew_exceeded").Inc()
		return nil, utils.TokenError("Code expired", nil)
	}

	presented, err := b64urlDecode(sig)
	if err != nil {
		return nil, utils.TokenError("Invalid code", nil)
	}
	expected := a.sign(canonicalString(memberID, mode, expMs))
	if !hmac.Equal(presented, expected) {
		utils.TokenResolutionsTotal.WithLabelValues("signed", "bad_signature").Inc()
		return nil, utils.TokenError("Invalid code", nil)
	}

	utils.TokenResolutionsTotal.WithLabelValues("signed", "ok").Inc()
	return &TokenClaims{MemberID: memberID, Mode: mode, ExpiresAtMs: expMs}, nil
}

// IssuedLink is a freshly issued (or reused) one-time token.
type IssuedLink struct {
	Token       string
	URL         string
	ExpiresAtMs int64
	Reused      bool
}

func newLinkToken() string {
	return "LT-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}

// IssueLink mints a one-time deep-link token for a member. An unconsumed,
// unexpired token created within the reuse window is returned instead of
// a new row, so rapid re-taps don't flood the table.
func (a *TokenAuthority) IssueLink(memberID, mode string) (*IssuedLink, error) {
	memberID = utils.NormalizeMemberID(memberID)
	if !utils.ValidateMemberID(memberID) {
		return nil, utils.ValidationError("Invalid member id", nil)
	}

	now := a.now()

	var prev models.LinkToken
	err := a.db.Where("member_id = ?", memberID).Order("id DESC").First(&prev).Error
	if err == nil &&
		!prev.Consumed &&
		prev.ExpiresAtMs > now.UnixMilli() &&
		now.Sub(prev.CreatedAt) < linkReuseWindow {
		return &IssuedLink{
			Token:       prev.Token,
			URL:         a.linkURL(prev.Token),
			ExpiresAtMs: prev.ExpiresAtMs,
			Reused:      true,
		}, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up link tokens: %w", err)
	}

	tok := models.LinkToken{
		Token:       newLinkToken(),
		MemberID:    memberID,
		Mode:        strings.ToUpper(mode),
		ExpiresAtMs: now.Add(a.linkTTL).UnixMilli(),
		CreatedAt:   now,
	}
	if err := a.db.Create(&tok).Error; err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}

	return &IssuedLink{Token: tok.Token, URL: a.linkURL(tok.Token), ExpiresAtMs: tok.ExpiresAtMs}, nil
}

func (a *TokenAuthority) linkURL(token string) string {
	if a.baseURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(a.baseURL, "?") {
		sep = "&"
	}
	return a.baseURL + sep + "t=" + url.QueryEscape(token)
}

// ResolveLink consumes a one-time token. The consumed flag is flipped with
// a single conditional update so a replayed token can never resolve twice.
func (a *TokenAuthority) ResolveLink(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, utils.TokenError("Invalid token", nil)
	}

	nowMs := a.now().UnixMilli()
	res := a.db.Model(&models.LinkToken{}).
		Where("token = ? AND consumed = ? AND expires_at_ms > ?", token, false, nowMs).
		Update("consumed", true)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to consume link token: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Work out why, for the audit trail only; the caller sees one
		// generic token error either way.
		var row models.LinkToken
		err := a.db.Where("token = ?", token).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			utils.TokenResolutionsTotal.WithLabelValues("link", "not_found").Inc()
		case err == nil && row.Consumed:
			utils.TokenResolutionsTotal.WithLabelValues("link", "already_used").Inc()
		default:
			utils.TokenResolutionsTotal.WithLabelValues("link", "expired").Inc()
		}
		return nil, utils.TokenError("Invalid or expired token", nil)
	}

	var row models.LinkToken
	if err := a.db.Where("token = ?", token).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to load link token: %w", err)
	}

	utils.TokenResolutionsTotal.WithLabelValues("link", "ok").Inc()
	return &TokenClaims{MemberID: row.MemberID, Mode: strings.ToUpper(row.Mode), ExpiresAtMs: row.ExpiresAtMs}, nil
}

// PurgeExpiredLinks removes consumed or long-expired link tokens.
func (a *TokenAuthority) PurgeExpiredLinks(olderThan time.Duration) (int64, error) {
	cutoff := a.now().UnixMilli() - olderThan.Milliseconds()
	res := a.db.Where("consumed = ? OR expires_at_ms < ?", true, cutoff).Delete(&models.LinkToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge link tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
