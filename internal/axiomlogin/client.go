package axiomlogin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
)

const (
	otpCookieName     = "auth-otp-login-token"
	accessCookieName  = "auth-access-token"
	refreshCookieName = "auth-refresh-token"
	defaultTimeout    = 30 * time.Second
)

// AxiomTokens is the credential pair (plus Axiom's own user id) returned by
// a successful Step2 call.
type AxiomTokens struct {
	AccessToken  string
	RefreshToken string
	UserID       string
}

// Client talks to the Axiom trading API's two-step login endpoints.
type Client struct {
	hosts      []string
	httpClient *http.Client
	rand       *rand.Rand
}

func NewClient(hosts []string) *Client {
	return &Client{
		hosts:      hosts,
		httpClient: &http.Client{Timeout: defaultTimeout},
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) randomHost() string {
	if len(c.hosts) == 0 {
		return "https://api.axiom.trade"
	}
	return c.hosts[c.rand.Intn(len(c.hosts))]
}

func browserHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Origin", "https://axiom.trade")
	req.Header.Set("Referer", "https://axiom.trade/")
}

// Step1 submits email + derived password to a randomly chosen host,
// returning the OTP JWT extracted from the body or a Set-Cookie header.
func (c *Client) Step1(ctx context.Context, email, b64Password string) (string, error) {
	host := c.randomHost()
	body, _ := json.Marshal(map[string]string{"email": email, "b64Password": b64Password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/login-password-v2", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUpstreamUnexpected, err)
	}
	browserHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if rateLimited(resp.StatusCode, respBody) {
		return "", apperr.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", apperr.ErrUpstreamUnexpected, resp.StatusCode, truncate(string(respBody), 200))
	}

	if jwtStr := extractJSONField(respBody, "otpJwtToken"); jwtStr != "" {
		return jwtStr, nil
	}
	if jwtStr := extractCookie(resp.Header.Values("Set-Cookie"), otpCookieName); jwtStr != "" {
		return jwtStr, nil
	}
	return "", fmt.Errorf("%w: missing otpJwtToken", apperr.ErrUpstreamUnexpected)
}

// Step2 submits the OTP code with the otp-login-token cookie to a randomly
// chosen host. Success requires both access and refresh tokens present.
func (c *Client) Step2(ctx context.Context, otpJWT, email, b64Password, code string) (*AxiomTokens, error) {
	host := c.randomHost()
	body, _ := json.Marshal(map[string]string{"code": code, "email": email, "b64Password": b64Password})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/login-otp", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnexpected, err)
	}
	browserHeaders(req)
	req.Header.Set("Cookie", otpCookieName+"="+otpJWT)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if rateLimited(resp.StatusCode, respBody) {
		return nil, apperr.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", apperr.ErrUpstreamUnexpected, resp.StatusCode, truncate(string(respBody), 200))
	}

	access := extractJSONField(respBody, "accessToken")
	refresh := extractJSONField(respBody, "refreshToken")
	userID := extractJSONField(respBody, "userId")
	cookies := resp.Header.Values("Set-Cookie")
	if access == "" {
		access = extractCookie(cookies, accessCookieName)
	}
	if refresh == "" {
		refresh = extractCookie(cookies, refreshCookieName)
	}

	if access == "" || refresh == "" {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnexpected, "missing access/refresh token")
	}
	return &AxiomTokens{AccessToken: access, RefreshToken: refresh, UserID: userID}, nil
}

// rateLimited classifies a response per spec.md §4.7: 429/5xx responses
// whose body mentions rate limiting, OR a 200 with an explicit rate-limit
// message body, count as rate limited.
func rateLimited(status int, body []byte) bool {
	lower := strings.ToLower(string(body))
	mentionsLimit := strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "too many attempts") ||
		strings.Contains(lower, "try again later")
	if status == http.StatusTooManyRequests || status >= 500 || status == http.StatusOK {
		return mentionsLimit
	}
	return false
}

func extractJSONField(body []byte, field string) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if v, ok := m[field].(string); ok {
		return v
	}
	return ""
}

func extractCookie(setCookieHeaders []string, name string) string {
	for _, raw := range setCookieHeaders {
		parts := strings.Split(raw, ";")
		if len(parts) == 0 {
			continue
		}
		kv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1]
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
