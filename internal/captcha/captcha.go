package captcha

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
)

// Length is the number of characters the CMS captcha always has.
const Length = 4

// Recognizer turns a captcha image into raw text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Normalize keeps ASCII letters and digits, truncates to Length and
// uppercases. Results shorter than Length are CAPTCHA_INVALID.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(raw) && b.Len() < Length; i++ {
		c := raw[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
		}
	}

	text := strings.ToUpper(b.String())
	if len(text) != Length {
		return text, apperrors.CaptchaInvalid(fmt.Sprintf("recognized %q, want %d alphanumeric characters", raw, Length))
	}
	return text, nil
}

type Resolver struct {
	recognizer Recognizer
}

func NewResolver(recognizer Recognizer) *Resolver {
	return &Resolver{recognizer: recognizer}
}

// Resolve recognizes image and normalizes the text. Recognizer failures are
// reported as CAPTCHA_INVALID so callers apply one retry policy.
func (r *Resolver) Resolve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", apperrors.CaptchaInvalid("empty captcha image")
	}

	raw, err := r.recognizer.Recognize(ctx, image)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeCaptchaInvalid, "captcha recognition failed", err)
	}
	return Normalize(raw)
}
