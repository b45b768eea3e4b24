// Package axiomlogin is the Axiom Login Orchestrator (C7): it drives the
// two-step password+OTP login against Axiom's trading API, retrying once
// against a freshly fetched OTP code when the submitted one has gone stale.
package axiomlogin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/axiombridge/credential-gateway/internal/apperr"
	"github.com/rs/zerolog"
)

const retryWait = 10 * time.Second

// MailReader is the subset of internal/mailreader.Reader the orchestrator
// needs, narrowed to an interface so tests can substitute a fake inbox.
type MailReader interface {
	GetAxiomOTP(ctx context.Context, userEmail string) (string, bool, error)
	GetAxiomOTPWithin(ctx context.Context, userEmail string, maxAgeSeconds, windowMinutes int) (string, bool, error)
}

// Orchestrator runs the S0->S1->S2/S_Retry/S_RateLimited state machine.
type Orchestrator struct {
	client *Client
	log    zerolog.Logger
}

func NewOrchestrator(client *Client, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{client: client, log: log}
}

// Login performs Step1, then Step2 with the caller-supplied code. If Step2
// fails for a reason other than rate-limiting, it waits 10 seconds, refetches
// the OTP (strict window first, then a looser fallback window), and retries
// Step2 exactly once if the refetched code differs from the one already
// submitted.
func (o *Orchestrator) Login(ctx context.Context, email, password, code string, mailReader MailReader) (*AxiomTokens, error) {
	b64Password, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrOAuthRejected, err)
	}

	otpJWT, err := o.client.Step1(ctx, email, b64Password)
	if err != nil {
		if errors.Is(err, apperr.ErrRateLimited) {
			o.log.Warn().Str("email", email).Msg("axiom step1 rate limited")
		}
		return nil, err
	}

	tokens, err := o.client.Step2(ctx, otpJWT, email, b64Password, code)
	if err == nil {
		return tokens, nil
	}
	if errors.Is(err, apperr.ErrRateLimited) {
		o.log.Warn().Str("email", email).Msg("axiom step2 rate limited")
		return nil, err
	}

	o.log.Info().Str("email", email).Msg("axiom step2 failed, waiting to refetch otp")

	select {
	case <-time.After(retryWait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	newCode, found, fetchErr := mailReader.GetAxiomOTP(ctx, email)
	if fetchErr != nil || !found {
		newCode, found, fetchErr = mailReader.GetAxiomOTPWithin(ctx, email, 300, 4)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrOTPUnavailable, fetchErr)
	}
	if !found || newCode == code {
		return nil, err
	}

	o.log.Info().Str("email", email).Msg("retrying axiom step2 with refreshed otp")
	return o.client.Step2(ctx, otpJWT, email, b64Password, newCode)
}
