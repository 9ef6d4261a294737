package model

// LoginSession holds the state of a single handshake attempt. It is never
// persisted and is discarded when the attempt ends.
type LoginSession struct {
	Token            string
	CaptchaImage     []byte
	CaptchaText      string
	EncryptedAccount string
	EncryptedData    string
}
