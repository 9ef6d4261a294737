package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
)

type mockDigestSender struct {
	mock.Mock
}

func (m *mockDigestSender) SendDailyDigest(ctx context.Context, accountID *int64) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

func TestSendDailyLog(t *testing.T) {
	t.Run("all accounts", func(t *testing.T) {
		digest := new(mockDigestSender)
		digest.On("SendDailyDigest", mock.Anything, (*int64)(nil)).Return(3, nil)

		h := NewEmailHandler(digest).Routes()
		rec, resp := doRequest(t, h, http.MethodPost, "/send-daily-log", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "Sent 3 daily log mails", resp.Message)
		digest.AssertExpectations(t)
	})

	t.Run("single account", func(t *testing.T) {
		digest := new(mockDigestSender)
		digest.On("SendDailyDigest", mock.Anything, mock.MatchedBy(func(id *int64) bool {
			return id != nil && *id == 5
		})).Return(1, nil)

		h := NewEmailHandler(digest).Routes()
		rec, _ := doRequest(t, h, http.MethodPost, "/send-daily-log", map[string]any{"accountId": 5})

		assert.Equal(t, http.StatusOK, rec.Code)
		digest.AssertExpectations(t)
	})

	t.Run("unknown account", func(t *testing.T) {
		digest := new(mockDigestSender)
		digest.On("SendDailyDigest", mock.Anything, mock.Anything).Return(0, apperrors.NotFound("account"))

		h := NewEmailHandler(digest).Routes()
		rec, resp := doRequest(t, h, http.MethodPost, "/send-daily-log", map[string]any{"accountId": 42})

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.False(t, resp.Success)
	})

	t.Run("mail not configured", func(t *testing.T) {
		digest := new(mockDigestSender)
		digest.On("SendDailyDigest", mock.Anything, mock.Anything).Return(0, apperrors.NotConfigured("no active email configuration"))

		h := NewEmailHandler(digest).Routes()
		rec, resp := doRequest(t, h, http.MethodPost, "/send-daily-log", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeNotConfigured, resp.Code)
	})

	t.Run("rejects non-positive account id", func(t *testing.T) {
		digest := new(mockDigestSender)

		h := NewEmailHandler(digest).Routes()
		rec, _ := doRequest(t, h, http.MethodPost, "/send-daily-log", map[string]any{"accountId": 0})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		digest.AssertNotCalled(t, "SendDailyDigest", mock.Anything, mock.Anything)
	})
}
