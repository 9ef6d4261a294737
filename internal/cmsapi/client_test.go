package cmsapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmsauto/autologin-server-go/internal/cmsapi"
	"github.com/cmsauto/autologin-server-go/internal/cmsapi/cmsapitest"
	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
)

func newClient(fake *cmsapitest.Server) *cmsapi.Client {
	return cmsapi.NewClient(cmsapi.Options{
		BaseURL:       fake.URL,
		Referer:       "https://cms.example.com/",
		FirstStageKey: fake.FirstStageKey(),
		Timeout:       2 * time.Second,
	})
}

func TestClient_Handshake(t *testing.T) {
	fake := cmsapitest.NewServer()
	defer fake.Close()
	client := newClient(fake)
	ctx := context.Background()

	token, err := client.IssueToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, fake.Token(), token)

	image, err := client.FetchCaptcha(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "img:AB12", string(image))

	env, err := client.Login(ctx, cmsapi.LoginRequest{
		LoginName:   "user@example.com",
		Secret:      "s3cret-password",
		CaptchaText: "AB12",
		Token:       token,
	})
	require.NoError(t, err)
	assert.True(t, env.OK())
	assert.NotEmpty(t, env.Raw)

	attempts := fake.Attempts()
	require.Len(t, attempts, 1)
	assert.NoError(t, attempts[0].DecryptErr)
	assert.Equal(t, "user@example.com", attempts[0].Account)
	assert.Equal(t, "s3cret-password", attempts[0].Secret)
	assert.Equal(t, "AB12", attempts[0].SafeCode)
	assert.Equal(t, token, attempts[0].Token)
	assert.Equal(t, "zh", attempts[0].Locale)

	club, err := client.ClubList(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Test Club", club.ClubName)
	assert.Equal(t, json.Number("1001"), club.ClubID)
}

func TestClient_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("token rejection is PROTOCOL_FAILURE", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()
		fake.FailToken(true)

		_, err := newClient(fake).IssueToken(ctx)
		assert.Equal(t, apperrors.ErrCodeProtocolFailure, apperrors.GetCode(err))
	})

	t.Run("captcha rejection is PROTOCOL_FAILURE", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()

		_, err := newClient(fake).FetchCaptcha(ctx, "wrong-token")
		assert.Equal(t, apperrors.ErrCodeProtocolFailure, apperrors.GetCode(err))
	})

	t.Run("non 200 login is NETWORK_FAILURE", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()
		fake.SetLoginStatus(http.StatusBadGateway)

		_, err := newClient(fake).Login(ctx, cmsapi.LoginRequest{LoginName: "u", Secret: "p", CaptchaText: "AB12", Token: fake.Token()})
		assert.Equal(t, apperrors.ErrCodeNetworkFailure, apperrors.GetCode(err))
	})

	t.Run("application rejection returns the envelope", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()
		fake.OnLogin(func(cmsapitest.LoginAttempt) cmsapitest.Reply {
			return cmsapitest.Reply{ErrCode: 1, ErrMsg: "验证码错误"}
		})

		env, err := newClient(fake).Login(ctx, cmsapi.LoginRequest{LoginName: "u", Secret: "p", CaptchaText: "ZZZZ", Token: fake.Token()})
		require.NoError(t, err)
		assert.False(t, env.OK())
		assert.Equal(t, "验证码错误", env.Message())
	})

	t.Run("login reply without iErrCode is not a success", func(t *testing.T) {
		for _, body := range []string{`{}`, `null`, `{"sErrMsg":"服务器维护中"}`} {
			fake := cmsapitest.NewServer()
			fake.OnLogin(func(cmsapitest.LoginAttempt) cmsapitest.Reply {
				return cmsapitest.Reply{Body: body}
			})

			env, err := newClient(fake).Login(ctx, cmsapi.LoginRequest{LoginName: "u", Secret: "p", CaptchaText: "AB12", Token: fake.Token()})
			fake.Close()
			require.NoError(t, err, body)
			assert.False(t, env.OK(), body)
			assert.Nil(t, env.ErrCode, body)
		}
	})

	t.Run("string iErrCode is accepted", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()
		fake.OnLogin(func(cmsapitest.LoginAttempt) cmsapitest.Reply {
			return cmsapitest.Reply{Body: `{"iErrCode":"0","result":{"token":"logged-in"}}`}
		})

		env, err := newClient(fake).Login(ctx, cmsapi.LoginRequest{LoginName: "u", Secret: "p", CaptchaText: "AB12", Token: fake.Token()})
		require.NoError(t, err)
		assert.True(t, env.OK())
	})

	t.Run("malformed token is KEY_ERROR", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()

		_, err := newClient(fake).Login(ctx, cmsapi.LoginRequest{LoginName: "u", Secret: "p", CaptchaText: "AB12", Token: "not-a-key"})
		assert.Equal(t, apperrors.ErrCodeKeyError, apperrors.GetCode(err))
		assert.Zero(t, fake.LoginCalls.Load())
	})

	t.Run("club list failure", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		defer fake.Close()
		fake.FailClubList(true)

		_, err := newClient(fake).ClubList(ctx, fake.Token())
		assert.Equal(t, apperrors.ErrCodeProtocolFailure, apperrors.GetCode(err))
	})

	t.Run("unreachable server is NETWORK_FAILURE", func(t *testing.T) {
		fake := cmsapitest.NewServer()
		fake.Close()

		_, err := newClient(fake).IssueToken(ctx)
		assert.Equal(t, apperrors.ErrCodeNetworkFailure, apperrors.GetCode(err))
	})
}

func TestClient_WireFormat(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		got = r
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := cmsapi.NewClient(cmsapi.Options{BaseURL: server.URL + "/", Referer: "https://cms.example.com/", Timeout: time.Second})

	_, err := client.IssueToken(context.Background())
	assert.Equal(t, apperrors.ErrCodeProtocolFailure, apperrors.GetCode(err))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/cms-api/token/generateCaptchaToken", got.URL.Path)
	assert.Equal(t, "application/x-www-form-urlencoded; charset=UTF-8", got.Header.Get("Content-Type"))
	assert.Equal(t, "https://cms.example.com/", got.Header.Get("Referer"))
	assert.Contains(t, got.Header.Get("User-Agent"), "Chrome/138")
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := cmsapi.NewClient(cmsapi.Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.IssueToken(context.Background())
	assert.Equal(t, apperrors.ErrCodeNetworkFailure, apperrors.GetCode(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}
