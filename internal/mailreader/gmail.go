// Package mailreader is the Mail Reader (C8): it reads a user's Gmail inbox
// looking for the Axiom OTP email and extracts the six-digit code.
package mailreader

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// UsersMessagesGetCall abstracts the Do method for UsersMessagesGet.
type UsersMessagesGetCall interface {
	Do(...googleapi.CallOption) (*gmail.Message, error)
}

// UsersMessagesListCall abstracts the Do method for UsersMessagesList.
type UsersMessagesListCall interface {
	Do(...googleapi.CallOption) (*gmail.ListMessagesResponse, error)
}

// GmailAPI is the subset of the Google Gmail API the reader uses.
type GmailAPI interface {
	UsersMessagesGet(userID, msgID string) UsersMessagesGetCall
	UsersMessagesList(userID string, q string, maxResults int64) UsersMessagesListCall
}

const maxMessagesToScan = 8

var otpPattern = regexp.MustCompile(`Your\s+Axiom\s+security\s+code\s+is:\s*(\d{6})`)

// TokenResolver looks up a valid Google access token for a user's email, the
// same operation sessionsvc.Service.GetGoogleAccessTokenForEmail performs.
type TokenResolver interface {
	GetGoogleAccessTokenForEmail(ctx context.Context, email string) (string, bool, error)
}

// Reader reads Gmail inboxes for Axiom OTP codes, resolving the caller's
// Google access token through tokens before querying the Gmail API.
type Reader struct {
	oauthConfig *oauth2.Config
	tokens      TokenResolver
	api         GmailAPI
	log         zerolog.Logger
}

type Option func(*Reader)

// WithGmailAPI substitutes a fake GmailAPI, used by tests.
func WithGmailAPI(api GmailAPI) Option {
	return func(r *Reader) { r.api = api }
}

func NewReader(oauthConfig *oauth2.Config, tokens TokenResolver, log zerolog.Logger, opts ...Option) *Reader {
	r := &Reader{oauthConfig: oauthConfig, tokens: tokens, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetAxiomOTP searches for an Axiom OTP email sent in the last 5 minutes.
func (r *Reader) GetAxiomOTP(ctx context.Context, userEmail string) (string, bool, error) {
	return r.GetAxiomOTPWithin(ctx, userEmail, 300, 5)
}

// GetAxiomOTPWithin searches within a configurable window: maxAgeSeconds
// discards any candidate message whose Date header is older than that many
// seconds before it is matched against the OTP pattern, windowMinutes bounds
// the Gmail "newer_than" query itself.
func (r *Reader) GetAxiomOTPWithin(ctx context.Context, userEmail string, maxAgeSeconds, windowMinutes int) (string, bool, error) {
	api, err := r.resolveAPI(ctx, userEmail)
	if err != nil {
		return "", false, err
	}

	primaryQuery := fmt.Sprintf(
		`label:inbox newer_than:%dm (from:(no-reply@axiom.trade OR axiom)) ("security code" OR "Axiom security code" OR "code is:")`,
		windowMinutes,
	)
	if code, found, err := r.tryQuery(ctx, api, primaryQuery, maxAgeSeconds); found || err != nil {
		return code, found, err
	}

	fallbackQuery := fmt.Sprintf(
		`newer_than:%dm (from:(no-reply@axiom.trade OR axiom)) (code OR verification OR "is:")`,
		windowMinutes,
	)
	return r.tryQuery(ctx, api, fallbackQuery, maxAgeSeconds)
}

func (r *Reader) resolveAPI(ctx context.Context, userEmail string) (GmailAPI, error) {
	if r.api != nil {
		return r.api, nil
	}
	accessToken, ok, err := r.tokens.GetGoogleAccessTokenForEmail(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no google access token on file for %s", apperr.ErrOTPUnavailable, userEmail)
	}
	client := r.oauthConfig.Client(ctx, &oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}
	return &serviceAdapter{svc: svc}, nil
}

func (r *Reader) tryQuery(ctx context.Context, api GmailAPI, query string, maxAgeSeconds int) (string, bool, error) {
	resp, err := api.UsersMessagesList("me", query, 10).Do()
	if err != nil {
		if classified := classifyGmailError(err); classified != nil {
			r.log.Warn().Err(err).Msg("gmail search failed")
			return "", false, classified
		}
		return "", false, nil
	}

	messages := resp.Messages
	if len(messages) > maxMessagesToScan {
		messages = messages[:maxMessagesToScan]
	}

	for _, m := range messages {
		if m == nil {
			continue
		}
		full, err := api.UsersMessagesGet("me", m.Id).Do()
		if err != nil || full == nil {
			continue
		}
		if !withinMaxAge(full.Payload, maxAgeSeconds) {
			r.log.Debug().Str("message_id", m.Id).Msg("discarding gmail message older than max age")
			continue
		}
		body := messageBody(full.Payload)
		r.log.Debug().Str("preview", sanitizeLogSnippet(body)).Msg("gmail message body preview")

		stripped := stripHTML(body)
		match := otpPattern.FindStringSubmatch(stripped)
		if len(match) == 2 {
			return match[1], true, nil
		}
	}
	return "", false, nil
}

// messageHeader returns the value of the first header matching name
// (case-insensitively), or "" if absent.
func messageHeader(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// withinMaxAge reports whether the message's Date header is within
// maxAgeSeconds of now. A missing or unparseable Date header does not
// disqualify the message, since the Gmail "newer_than" query already bounds
// candidates to the search window.
func withinMaxAge(payload *gmail.MessagePart, maxAgeSeconds int) bool {
	if maxAgeSeconds <= 0 {
		return true
	}
	dateHeader := messageHeader(payload, "Date")
	if dateHeader == "" {
		return true
	}
	sent, err := mail.ParseDate(dateHeader)
	if err != nil {
		return true
	}
	return time.Since(sent) <= time.Duration(maxAgeSeconds)*time.Second
}

func classifyGmailError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "has not been used") || strings.Contains(msg, "disabled") {
		return fmt.Errorf("%w: gmail api not enabled for project: %v", apperr.ErrProviderUnavailable, err)
	}
	if strings.Contains(msg, "insufficient") && strings.Contains(msg, "scope") {
		return fmt.Errorf("%w: access token missing gmail.readonly scope: %v", apperr.ErrProviderUnavailable, err)
	}
	return nil
}

func messageBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(decoded)
		}
		if decoded, err := base64.RawURLEncoding.DecodeString(payload.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" || part.MimeType == "text/html" {
			if part.Body != nil && part.Body.Data != "" {
				if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
					return string(decoded)
				}
				if decoded, err := base64.RawURLEncoding.DecodeString(part.Body.Data); err == nil {
					return string(decoded)
				}
			}
		}
	}
	return ""
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]+>`)
	spacePattern = regexp.MustCompile(`\s+`)
	digitPattern = regexp.MustCompile(`\d{6,}`)
)

func stripHTML(input string) string {
	if !strings.Contains(input, "<") || !strings.Contains(input, ">") {
		return input
	}
	noTags := tagPattern.ReplaceAllString(input, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(noTags, " "))
}

// sanitizeLogSnippet truncates to 160 chars and redacts any run of 6+
// digits so OTP codes never land in logs verbatim.
func sanitizeLogSnippet(s string) string {
	out := s
	if len(out) > 160 {
		out = out[:160] + "…"
	}
	return digitPattern.ReplaceAllString(out, "<redacted>")
}

// serviceAdapter wraps the concrete *gmail.Service to satisfy GmailAPI.
type serviceAdapter struct {
	svc *gmail.Service
}

func (a *serviceAdapter) UsersMessagesGet(userID, msgID string) UsersMessagesGetCall {
	return a.svc.Users.Messages.Get(userID, msgID)
}

func (a *serviceAdapter) UsersMessagesList(userID, q string, maxResults int64) UsersMessagesListCall {
	return a.svc.Users.Messages.List(userID).Q(q).MaxResults(maxResults)
}
