// Package cmsapitest provides an in-process CMS API for tests.
package cmsapitest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"
)

// LoginAttempt is a decrypted login submission.
type LoginAttempt struct {
	N          int
	Account    string
	Secret     string
	SafeCode   string
	Token      string
	Locale     string
	DecryptErr error
}

// Reply is the envelope the fake answers a login with.
type Reply struct {
	ErrCode int
	ErrMsg  string
	// Body, when set, is written verbatim instead of an envelope.
	Body string
}

// Server fakes the four CMS endpoints. Session tokens are the base64 DER of
// a key pair the server keeps, so submissions can be decrypted and checked.
type Server struct {
	*httptest.Server

	FirstStage *rsa.PrivateKey
	session    *rsa.PrivateKey
	token      string

	// Captcha is the text encoded in the served image.
	Captcha string

	mu           sync.Mutex
	tokenFail    bool
	captchaFail  bool
	clubFail     bool
	loginStatus  int
	loginDelay   time.Duration
	loginReplies func(LoginAttempt) Reply
	attempts     []LoginAttempt

	TokenCalls   atomic.Int32
	CaptchaCalls atomic.Int32
	LoginCalls   atomic.Int32
	ClubCalls    atomic.Int32

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewServer starts a fake whose logins succeed until configured otherwise.
func NewServer() *Server {
	s := &Server{
		FirstStage:  mustKey(),
		session:     mustKey(),
		Captcha:     "AB12",
		loginStatus: http.StatusOK,
	}
	der, err := x509.MarshalPKIXPublicKey(&s.session.PublicKey)
	if err != nil {
		panic(err)
	}
	s.token = base64.StdEncoding.EncodeToString(der)
	s.loginReplies = func(LoginAttempt) Reply { return Reply{} }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cms-api/token/generateCaptchaToken", s.handleToken)
	mux.HandleFunc("POST /cms-api/captcha", s.handleCaptcha)
	mux.HandleFunc("POST /cms-api/login", s.handleLogin)
	mux.HandleFunc("POST /cms-api/club/getClubList", s.handleClubList)
	s.Server = httptest.NewServer(mux)
	return s
}

// FirstStageKey returns the base64 DER public key the client must use first.
func (s *Server) FirstStageKey() string {
	der, err := x509.MarshalPKIXPublicKey(&s.FirstStage.PublicKey)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func (s *Server) Token() string { return s.token }

func (s *Server) FailToken(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenFail = fail
}

func (s *Server) FailCaptcha(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captchaFail = fail
}

func (s *Server) FailClubList(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clubFail = fail
}

// SetLoginStatus makes the login endpoint answer with an HTTP status other than 200.
func (s *Server) SetLoginStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStatus = status
}

func (s *Server) SetLoginDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginDelay = d
}

func (s *Server) OnLogin(fn func(LoginAttempt) Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginReplies = fn
}

func (s *Server) Attempts() []LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoginAttempt(nil), s.attempts...)
}

// MaxConcurrentLogins is the highest number of overlapping login requests seen.
func (s *Server) MaxConcurrentLogins() int {
	return int(s.maxInFlight.Load())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.TokenCalls.Add(1)
	s.mu.Lock()
	fail := s.tokenFail
	s.mu.Unlock()

	if fail {
		writeEnvelope(w, 500, "token service busy", nil)
		return
	}
	writeEnvelope(w, 0, "", s.token)
}

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	s.CaptchaCalls.Add(1)
	s.mu.Lock()
	fail := s.captchaFail
	s.mu.Unlock()

	if fail || r.FormValue("token") != s.token {
		writeEnvelope(w, 401, "invalid token", nil)
		return
	}
	writeEnvelope(w, 0, "", base64.StdEncoding.EncodeToString([]byte("img:"+s.Captcha)))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	n := int(s.LoginCalls.Add(1))
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxInFlight.Load()
		if current <= prev || s.maxInFlight.CompareAndSwap(prev, current) {
			break
		}
	}

	s.mu.Lock()
	status := s.loginStatus
	delay := s.loginDelay
	reply := s.loginReplies
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	attempt := s.decrypt(n, r)
	s.mu.Lock()
	s.attempts = append(s.attempts, attempt)
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	out := reply(attempt)
	if out.Body != "" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(out.Body))
		return
	}
	if out.ErrCode == 0 && attempt.DecryptErr != nil {
		out = Reply{ErrCode: 1, ErrMsg: attempt.DecryptErr.Error()}
	}
	if out.ErrCode == 0 {
		writeEnvelope(w, 0, "", map[string]any{"token": "logged-in"})
		return
	}
	writeEnvelope(w, out.ErrCode, out.ErrMsg, nil)
}

func (s *Server) handleClubList(w http.ResponseWriter, r *http.Request) {
	s.ClubCalls.Add(1)
	s.mu.Lock()
	fail := s.clubFail
	s.mu.Unlock()

	if fail || r.Header.Get("token") == "" {
		writeEnvelope(w, 403, "not logged in", nil)
		return
	}
	writeEnvelope(w, 0, "", []map[string]any{{
		"lClubID":         1001,
		"sClubName":       "Test Club",
		"lCreateUser":     42,
		"iCreditLeagueId": 7,
	}})
}

func (s *Server) decrypt(n int, r *http.Request) LoginAttempt {
	attempt := LoginAttempt{
		N:        n,
		SafeCode: r.FormValue("safeCode"),
		Token:    r.FormValue("token"),
		Locale:   r.FormValue("locale"),
	}

	account, err := decryptChained(s.session, r.FormValue("account"))
	if err != nil {
		attempt.DecryptErr = fmt.Errorf("account: %w", err)
		return attempt
	}
	stage1, err := decryptChained(s.session, r.FormValue("data"))
	if err != nil {
		attempt.DecryptErr = fmt.Errorf("data: %w", err)
		return attempt
	}
	secret, err := decryptChained(s.FirstStage, string(stage1))
	if err != nil {
		attempt.DecryptErr = fmt.Errorf("stage1: %w", err)
		return attempt
	}
	attempt.Account = string(account)
	attempt.Secret = string(secret)
	return attempt
}

func decryptChained(key *rsa.PrivateKey, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	k := key.PublicKey.Size()
	if len(raw) == 0 || len(raw)%k != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(raw), k)
	}
	var out []byte
	for i := 0; i < len(raw); i += k {
		block, err := rsa.DecryptPKCS1v15(nil, key, raw[i:i+k])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, result any) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"iErrCode": code}
	if msg != "" {
		body["sErrMsg"] = msg
	}
	if result != nil {
		body["result"] = result
	}
	json.NewEncoder(w).Encode(body)
}

func mustKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(err)
	}
	return key
}
