package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// Context keys set by the auth middleware.
const (
	CtxSessionID  = "sessionID"
	CtxMemberID   = "memberID"
	CtxStaffName  = "staffUsername"
	CtxMerchantID = "merchantID"
	CtxStaffRole  = "staffRole"
	CtxAdminEmail = "adminEmail"
)

// sessionID pulls the opaque session id from the Authorization header or
// the X-Session-Id header.
func sessionID(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.GetHeader("X-Session-Id"))
}

// MemberAuth validates a member session and loads the member.
func MemberAuth(engine *core.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := engine.Sessions.Validate(sessionID(c))
		if err != nil {
			utils.Fail(c, err)
			c.Abort()
			return
		}
		if info.Realm != core.RealmMember {
			utils.Fail(c, utils.AuthError("Please sign in", nil))
			c.Abort()
			return
		}

		var member models.Member
		err = engine.DB.Where("member_id = ?", info.SubjectID).First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && member.IsBlocked) {
			utils.Fail(c, utils.AuthError("Please sign in", nil))
			c.Abort()
			return
		}
		if err != nil {
			utils.LogError("Failed to load member for session: %v", err)
			utils.InternalServerError(c, "Something went wrong", nil)
			c.Abort()
			return
		}

		c.Set(CtxSessionID, info.SID)
		c.Set(CtxMemberID, member.MemberID)
		c.Next()
	}
}

// StaffAuth validates a staff session and loads the staff row along with
// its merchant scope.
func StaffAuth(engine *core.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := engine.Sessions.Validate(sessionID(c))
		if err != nil {
			utils.Fail(c, err)
			c.Abort()
			return
		}
		if info.Realm != core.RealmStaff {
			utils.Fail(c, utils.AuthError("Please sign in", nil))
			c.Abort()
			return
		}

		var staff models.Staff
		err = engine.DB.Where("username = ?", info.SubjectID).First(&staff).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !staff.Active) {
			utils.Fail(c, utils.AuthError("Please sign in", nil))
			c.Abort()
			return
		}
		if err != nil {
			utils.LogError("Failed to load staff for session: %v", err)
			utils.InternalServerError(c, "Something went wrong", nil)
			c.Abort()
			return
		}

		c.Set(CtxSessionID, info.SID)
		c.Set(CtxStaffName, staff.Username)
		c.Set(CtxMerchantID, staff.MerchantID)
		c.Set(CtxStaffRole, staff.Role)
		c.Next()
	}
}

// RequireManager restricts a staff route to the manager role. Must run
// after StaffAuth.
func RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxStaffRole) != models.RoleManager {
			utils.Fail(c, utils.ScopeError("Manager role required", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminAuth validates the admin bearer JWT.
func AdminAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			utils.Fail(c, utils.AuthError("Admin token required", nil))
			c.Abort()
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			utils.Fail(c, utils.AuthError("Invalid or expired admin token", nil))
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			utils.Fail(c, utils.AuthError("Invalid or expired admin token", nil))
			c.Abort()
			return
		}

		email, _ := claims["email"].(string)
		c.Set(CtxAdminEmail, email)
		c.Next()
	}
}
