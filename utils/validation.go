package utils

import (
	"html"
	"regexp"
	"strings"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	pinRegex      = regexp.MustCompile(`^[0-9]{6}$`)
	memberIDRegex = regexp.MustCompile(`^MBR-[A-Z0-9]{8}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	otpRegex      = regexp.MustCompile(`^[0-9]{6}$`)
	htmlTagRegex  = regexp.MustCompile(`<[^>]*>`)
)

// SanitizeString removes HTML tags and escapes special characters
func SanitizeString(input string) string {
	sanitized := html.EscapeString(strings.TrimSpace(input))
	return htmlTagRegex.ReplaceAllString(sanitized, "")
}

// SanitizeEmail lowercases and trims an email address; returns "" if it
// does not look like an email at all.
func SanitizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(e, "@") {
		return ""
	}
	return e
}

// ValidateEmail checks if the email is valid
func ValidateEmail(email string) (bool, string) {
	if !emailRegex.MatchString(email) {
		return false, "Invalid email format. Please enter a valid email address"
	}
	return true, ""
}

// ValidatePin checks the 6-digit PIN format. Callers must count a failure
// against the lockout guard even when the format is bad.
func ValidatePin(pin string) bool {
	return pinRegex.MatchString(pin)
}

// ValidateMemberID checks the MBR-XXXXXXXX member id format
func ValidateMemberID(memberID string) bool {
	return memberIDRegex.MatchString(memberID)
}

// NormalizeMemberID trims and uppercases a member id
func NormalizeMemberID(memberID string) string {
	return strings.ToUpper(strings.TrimSpace(memberID))
}

// ValidateUsername checks a staff username
func ValidateUsername(username string) (bool, string) {
	if !usernameRegex.MatchString(username) {
		return false, "Username must be 3-20 characters of letters, numbers and underscores"
	}
	return true, ""
}

// ValidateOTP checks a 6-digit OTP
func ValidateOTP(otp string) bool {
	return otpRegex.MatchString(otp)
}

// NormalizeMode uppercases a transaction mode; returns "" for anything
// other than COLLECT or REDEEM.
func NormalizeMode(mode string) string {
	m := strings.ToUpper(strings.TrimSpace(mode))
	if m == "COLLECT" || m == "REDEEM" {
		return m
	}
	return ""
}

// MaskEmail masks an email for logs and UI hints
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***"
	}
	name := parts[0]
	if len(name) <= 2 {
		return name[:1] + "*@" + parts[1]
	}
	return name[:1] + "***" + name[len(name)-1:] + "@" + parts[1]
}
