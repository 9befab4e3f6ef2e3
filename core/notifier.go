package core

// Notifier delivers out-of-band messages to members. The SMTP sender in
// utils satisfies it; tests plug in a capture fake.
type Notifier interface {
	SendOTP(to, otp string) error
	SendResetLink(to, link string) error
}
