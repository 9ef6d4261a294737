// Package cmsapi is the client for the CMS login API: token issue, captcha
// fetch, credential submission and the club list lookup.
package cmsapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/cmsauto/autologin-server-go/internal/errors"
	"github.com/cmsauto/autologin-server-go/internal/metrics"
	"github.com/cmsauto/autologin-server-go/internal/rsachain"
)

const (
	pathIssueToken = "/cms-api/token/generateCaptchaToken"
	pathCaptcha    = "/cms-api/captcha"
	pathLogin      = "/cms-api/login"
	pathClubList   = "/cms-api/club/getClubList"

	formContentType = "application/x-www-form-urlencoded; charset=UTF-8"
	maxResponseSize = 1 << 20
	defaultTimeout  = 30 * time.Second
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
	secChUA   = `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`
)

type Options struct {
	BaseURL       string
	Referer       string
	FirstStageKey string
	Timeout       time.Duration
}

type Client struct {
	baseURL       string
	referer       string
	firstStageKey string
	timeout       time.Duration
	client        *http.Client
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		referer:       opts.Referer,
		firstStageKey: opts.FirstStageKey,
		timeout:       opts.Timeout,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Envelope is the response wrapper of every CMS endpoint.
type Envelope struct {
	// ErrCode is nil when the server sent no iErrCode.
	ErrCode *Code           `json:"iErrCode"`
	ErrMsg  string          `json:"sErrMsg,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

// Code is iErrCode, sent either as a number or as a numeric string.
type Code int

func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("iErrCode %q is not a number", s)
		}
		*c = Code(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("iErrCode %s is not a number", data)
	}
	*c = Code(n)
	return nil
}

// OK reports whether the server answered with iErrCode 0. A missing code is
// not a success.
func (e *Envelope) OK() bool {
	return e.ErrCode != nil && *e.ErrCode == 0
}

// Message returns sErrMsg, or a placeholder when the server sent none.
func (e *Envelope) Message() string {
	if e.ErrMsg != "" {
		return e.ErrMsg
	}
	if e.ErrCode == nil {
		return "response has no iErrCode"
	}
	return "unknown error"
}

// Describe formats the code and message for error reports.
func (e *Envelope) Describe() string {
	if e.ErrCode == nil {
		return "iErrCode missing: " + e.Message()
	}
	return fmt.Sprintf("iErrCode=%d: %s", *e.ErrCode, e.Message())
}

type LoginRequest struct {
	LoginName   string
	Secret      string
	CaptchaText string
	Token       string
}

// ClubInfo is the first entry of the club list.
type ClubInfo struct {
	ClubID         json.Number `json:"lClubID"`
	ClubName       string      `json:"sClubName"`
	CreateUser     json.Number `json:"lCreateUser"`
	CreditLeagueID json.Number `json:"iCreditLeagueId"`
}

// IssueToken asks the server for a captcha token. The token doubles as the
// session's RSA public key.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	env, err := c.post(ctx, "token", pathIssueToken, nil, nil)
	if err != nil {
		return "", err
	}
	if !env.OK() {
		return "", apperrors.ProtocolFailure("issue token", env.Describe())
	}

	var token string
	if err := json.Unmarshal(env.Result, &token); err != nil || token == "" {
		return "", apperrors.ProtocolFailure("issue token", "result is not a token string")
	}
	return token, nil
}

// FetchCaptcha downloads the captcha image bound to token.
func (c *Client) FetchCaptcha(ctx context.Context, token string) ([]byte, error) {
	env, err := c.post(ctx, "captcha", pathCaptcha, url.Values{"token": {token}}, nil)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		return nil, apperrors.ProtocolFailure("fetch captcha", env.Describe())
	}

	var encoded string
	if err := json.Unmarshal(env.Result, &encoded); err != nil || encoded == "" {
		return nil, apperrors.ProtocolFailure("fetch captcha", "result is not an image string")
	}
	image, err := decodeImage(encoded)
	if err != nil {
		return nil, apperrors.ProtocolFailure("fetch captcha", err.Error())
	}
	return image, nil
}

// EncryptCredentials applies the login form's chained encryption: the secret
// under the first stage key and then under the token, the login name under
// the token only.
func (c *Client) EncryptCredentials(loginName, secret, token string) (account, data string, err error) {
	stage1, err := rsachain.EncryptString(secret, c.firstStageKey)
	if err != nil {
		return "", "", err
	}

	sessionKey, err := rsachain.LoadKey(token)
	if err != nil {
		return "", "", err
	}
	data, err = rsachain.EncryptChained([]byte(stage1), sessionKey)
	if err != nil {
		return "", "", err
	}
	account, err = rsachain.EncryptChained([]byte(loginName), sessionKey)
	if err != nil {
		return "", "", err
	}
	return account, data, nil
}

// Login submits the credentials. Any decodable response is returned, even
// when iErrCode is non-zero, so the caller can classify the rejection.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Envelope, error) {
	account, data, err := c.EncryptCredentials(req.LoginName, req.Secret, req.Token)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"account":  {account},
		"data":     {data},
		"safeCode": {req.CaptchaText},
		"token":    {req.Token},
		"locale":   {"zh"},
	}
	return c.post(ctx, "login", pathLogin, form, nil)
}

// ClubList fetches the clubs of the logged in account and returns the first one.
func (c *Client) ClubList(ctx context.Context, token string) (*ClubInfo, error) {
	headers := http.Header{}
	headers.Set("token", token)

	env, err := c.post(ctx, "club_list", pathClubList, nil, headers)
	if err != nil {
		return nil, err
	}
	if !env.OK() {
		return nil, apperrors.ProtocolFailure("club list", env.Describe())
	}

	var list []ClubInfo
	if err := json.Unmarshal(env.Result, &list); err == nil {
		if len(list) == 0 {
			return nil, apperrors.ProtocolFailure("club list", "empty club list")
		}
		return &list[0], nil
	}
	var single ClubInfo
	if err := json.Unmarshal(env.Result, &single); err != nil {
		return nil, apperrors.ProtocolFailure("club list", "unexpected result shape")
	}
	return &single, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, form url.Values, extra http.Header) (env *Envelope, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := "ok"
	defer func() {
		metrics.RemoteRequestDuration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		result = "network"
		return nil, apperrors.NetworkFailure(endpoint, err)
	}
	c.setHeaders(req)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result = "network"
		log.Warn().Err(err).Str("endpoint", endpoint).Dur("elapsed", time.Since(start)).Msg("cms request error")
		return nil, apperrors.NetworkFailure(endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		result = "network"
		return nil, apperrors.NetworkFailure(endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		result = "network"
		log.Warn().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("cms request failed")
		return nil, apperrors.NetworkFailure(endpoint, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	env = &Envelope{}
	if err := json.Unmarshal(payload, env); err != nil {
		result = "protocol"
		return nil, apperrors.ProtocolFailure(endpoint, "response is not a JSON envelope").WithCause(err)
	}
	env.Raw = payload

	log.Debug().
		Str("endpoint", endpoint).
		Interface("iErrCode", env.ErrCode).
		Dur("elapsed", time.Since(start)).
		Msg("cms request done")
	return env, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("sec-ch-ua", secChUA)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"Windows"`)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Referer", c.referer)
}

// decodeImage accepts plain base64 or a data URI.
func decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("captcha image is not base64: %w", err)
	}
	return image, nil
}
