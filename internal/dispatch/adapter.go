// Package dispatch normalizes "send a WhatsApp message" across the official
// Graph API and the QR-session gateway. Backend choice is data-driven off the
// conversation row; provider failures come back as values, never panics or
// unguarded errors, so the caller can persist a failed message.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wamsg/internal/domain"
	"wamsg/internal/observability"
	"wamsg/internal/providers/meta"
	"wamsg/internal/providers/qrgateway"
	"wamsg/internal/store"
)

type OfficialSender interface {
	SendMessage(ctx context.Context, req meta.SendRequest) (meta.SendResponse, int, []byte, error)
}

type GatewaySender interface {
	SendMessage(ctx context.Context, req qrgateway.SendRequest) (string, int, error)
}

type Request struct {
	Type         string
	Body         string
	MediaURL     string
	TemplateName string
}

// Outcome is the normalized result. Err is set for both configuration
// problems (ErrNoChannel, ErrAmbiguousChannel) and provider failures
// (*domain.ProviderError); ExternalMessageID is set only on success.
type Outcome struct {
	OK                bool
	Channel           domain.Channel
	ExternalMessageID string
	Err               error
}

type Adapter struct {
	Official OfficialSender
	Gateway  GatewaySender

	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration

	MaxAttempts int
}

// SelectChannel applies the routing rule: official account wins iff it is the
// only binding; both set is a tenant configuration error.
func SelectChannel(conv store.Conversation) (domain.Channel, error) {
	hasAccount := conv.WhatsappAccountID != ""
	hasInstance := conv.InstanceID != ""
	switch {
	case hasAccount && hasInstance:
		return "", domain.ErrAmbiguousChannel
	case hasAccount:
		return domain.ChannelOfficialAPI, nil
	case hasInstance:
		return domain.ChannelQRGateway, nil
	default:
		return "", domain.ErrNoChannel
	}
}

func (a *Adapter) Send(ctx context.Context, conv store.Conversation, req Request) Outcome {
	channel, err := SelectChannel(conv)
	if err != nil {
		return Outcome{Err: err}
	}

	start := time.Now()
	out := a.sendOn(ctx, channel, conv, req)
	observability.DispatchLatency.Observe(time.Since(start).Seconds())
	if out.OK {
		observability.Dispatches.WithLabelValues(string(channel), "ok").Inc()
	} else {
		observability.Dispatches.WithLabelValues(string(channel), "error").Inc()
	}
	return out
}

func (a *Adapter) sendOn(ctx context.Context, channel domain.Channel, conv store.Conversation, req Request) Outcome {
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < attempts; attempt++ {
		if a.Limiter != nil {
			waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
			err := a.Limiter.Wait(waitCtx)
			cancelWait()
			if err != nil {
				lastErr = err
				continue
			}
		}

		extID, httpStatus, err := a.executeWithBreaker(ctx, channel, conv, req)
		if err == nil {
			return Outcome{OK: true, Channel: channel, ExternalMessageID: extID}
		}

		// An open breaker means the provider is already struggling; give up
		// immediately and let the operator re-send.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Outcome{Channel: channel, Err: &domain.ProviderError{
				Channel: channel, Message: "provider temporarily unavailable", Err: err,
			}}
		}

		lastErr = err
		lastStatus = httpStatus
		if !meta.ShouldRetry(err, httpStatus) {
			break
		}
		time.Sleep(meta.Backoff(attempt))
	}

	return Outcome{Channel: channel, Err: &domain.ProviderError{
		Channel:    channel,
		StatusCode: lastStatus,
		Message:    errString(lastErr),
		Err:        lastErr,
	}}
}

func (a *Adapter) executeWithBreaker(ctx context.Context, channel domain.Channel, conv store.Conversation, req Request) (string, int, error) {
	call := func() (any, error) {
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		switch channel {
		case domain.ChannelOfficialAPI:
			resp, httpStatus, _, err := a.Official.SendMessage(reqCtx, meta.SendRequest{
				PhoneNumberID: conv.WhatsappAccountID,
				To:            conv.PhoneNumber,
				Type:          req.Type,
				Body:          req.Body,
				MediaURL:      req.MediaURL,
				TemplateName:  req.TemplateName,
			})
			if err != nil {
				return nil, callError{err: err, httpStatus: httpStatus}
			}
			return sendResult{externalID: resp.MessageID(), httpStatus: httpStatus}, nil
		default:
			extID, httpStatus, err := a.Gateway.SendMessage(reqCtx, qrgateway.SendRequest{
				InstanceID: conv.InstanceID,
				To:         conv.PhoneNumber,
				Type:       req.Type,
				Body:       req.Body,
				MediaURL:   req.MediaURL,
			})
			if err != nil {
				return nil, callError{err: err, httpStatus: httpStatus}
			}
			return sendResult{externalID: extID, httpStatus: httpStatus}, nil
		}
	}

	var resAny any
	var err error
	if a.Breaker == nil {
		resAny, err = call()
	} else {
		resAny, err = a.Breaker.Execute(call)
	}
	if err != nil {
		var ce callError
		if errors.As(err, &ce) {
			return "", ce.httpStatus, err
		}
		return "", 0, err
	}
	r := resAny.(sendResult)
	return r.externalID, r.httpStatus, nil
}

type sendResult struct {
	externalID string
	httpStatus int
}

type callError struct {
	err        error
	httpStatus int
}

func (e callError) Error() string {
	if e.httpStatus > 0 {
		return e.err.Error() + " (http " + strconv.Itoa(e.httpStatus) + ")"
	}
	return e.err.Error()
}
func (e callError) Unwrap() error { return e.err }

func errString(err error) string {
	if err == nil {
		return "send failed"
	}
	return err.Error()
}
