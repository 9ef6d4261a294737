package captcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
)

type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	args := m.Called(ctx, image)
	return args.String(0), args.Error(1)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		valid    bool
	}{
		{"exact", "ab12", "AB12", true},
		{"noise is stripped", " a-b.1_2 ", "AB12", true},
		{"truncated to four", "xyz987", "XYZ9", true},
		{"non ascii dropped", "验a证b码12", "AB12", true},
		{"mixed case", "aBcD", "ABCD", true},
		{"too short", "a1!", "A1", false},
		{"only noise", "--__", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text, err := Normalize(tc.raw)
			assert.Equal(t, tc.expected, text)
			if tc.valid {
				require.NoError(t, err)
				assert.Regexp(t, `^[A-Z0-9]{4}$`, text)
			} else {
				assert.Equal(t, apperrors.ErrCodeCaptchaInvalid, apperrors.GetCode(err))
			}
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}

	t.Run("normalizes recognizer output", func(t *testing.T) {
		rec := new(MockRecognizer)
		rec.On("Recognize", mock.Anything, image).Return("x7 k2~q", nil)

		text, err := NewResolver(rec).Resolve(context.Background(), image)
		require.NoError(t, err)
		assert.Equal(t, "X7K2", text)
		rec.AssertExpectations(t)
	})

	t.Run("recognizer failure is CAPTCHA_INVALID", func(t *testing.T) {
		rec := new(MockRecognizer)
		rec.On("Recognize", mock.Anything, image).Return("", errors.New("model crashed"))

		_, err := NewResolver(rec).Resolve(context.Background(), image)
		assert.Equal(t, apperrors.ErrCodeCaptchaInvalid, apperrors.GetCode(err))
	})

	t.Run("empty image is rejected before recognition", func(t *testing.T) {
		rec := new(MockRecognizer)

		_, err := NewResolver(rec).Resolve(context.Background(), nil)
		assert.Equal(t, apperrors.ErrCodeCaptchaInvalid, apperrors.GetCode(err))
		rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
	})
}

func TestHTTPRecognizer(t *testing.T) {
	image := []byte("fake-image")

	t.Run("posts base64 image and reads result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req recognizeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, base64.StdEncoding.EncodeToString(image), req.Image)

			json.NewEncoder(w).Encode(map[string]string{"result": "ab12"})
		}))
		defer server.Close()

		text, err := NewHTTPRecognizer(server.URL, time.Second).Recognize(context.Background(), image)
		require.NoError(t, err)
		assert.Equal(t, "ab12", text)
	})

	t.Run("non 200 is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewHTTPRecognizer(server.URL, time.Second).Recognize(context.Background(), image)
		assert.Error(t, err)
	})

	t.Run("error field is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"error": "bad image"})
		}))
		defer server.Close()

		_, err := NewHTTPRecognizer(server.URL, time.Second).Recognize(context.Background(), image)
		assert.ErrorContains(t, err, "bad image")
	})

	t.Run("times out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		_, err := NewHTTPRecognizer(server.URL, 20*time.Millisecond).Recognize(context.Background(), image)
		assert.Error(t, err)
	})
}
