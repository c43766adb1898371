package mailer

import "go.uber.org/zap"

// Mailer delivers one-time login codes. Real delivery (SMTP, push) lives
// outside this repo; the server only depends on this interface.
type Mailer interface {
	SendLoginCode(email, code string) error
}

// LogMailer writes codes to the log instead of sending mail. Suitable for
// development and tests only.
type LogMailer struct {
	Log *zap.Logger
}

func (m *LogMailer) SendLoginCode(email, code string) error {
	m.Log.Info("login code issued", zap.String("email", email), zap.String("code", code))
	return nil
}
