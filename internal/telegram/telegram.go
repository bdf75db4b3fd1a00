// Package telegram implements the small slice of the Telegram Bot API that
// feedwatch needs: sending a message to a chat.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"feedwatch/internal/request"
)

const tgAPI = "https://api.telegram.org"

// sendRetryLimit bounds attempts to retry a rate-limited send.
const sendRetryLimit = 5

// ErrorKind classifies a delivery failure.
type ErrorKind int

// Delivery failure kinds.
const (
	Unavailable  ErrorKind = iota // transport failed or Telegram is down
	ChatNotFound                  // the destination chat doesn't exist or the bot can't see it
	Blocked                       // the bot was blocked or kicked from the chat
	BadRequest                    // the request was malformed (usually broken markup)
	RateLimited                   // too many requests, retry later
)

// Error is a classified delivery failure.
type Error struct {
	Kind        ErrorKind
	Description string
	// RetryAfter is how long Telegram asked to wait. Only set for RateLimited.
	RetryAfter time.Duration

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("sending message: %s", e.Description)
}

func (e *Error) Unwrap() error { return e.err }

// Sender sends messages through the Telegram Bot API.
type Sender struct {
	// Token is the bot token.
	Token string
	// HTTPClient is an optional custom HTTP client object to use for requests.
	HTTPClient *http.Client
	// Sleep is used to wait out rate limits; defaults to time.Sleep. Tests
	// replace it.
	Sleep func(time.Duration)

	scrubber *strings.Replacer
}

// SendOptions control formatting of a sent message.
type SendOptions struct {
	// DisableLinkPreview disables link preview expansion for the message.
	DisableLinkPreview bool
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send delivers text to the chat identified by chatID, using the HTML markup
// mode. Rate-limited sends are waited out and retried a bounded number of
// times; all other failures are returned immediately as a classified [*Error].
func (s *Sender) Send(ctx context.Context, chatID, text string, opts SendOptions) error {
	msg := &message{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}
	msg.LinkPreviewOptions.IsDisabled = opts.DisableLinkPreview

	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for range sendRetryLimit {
		err = s.makeRequest(ctx, "sendMessage", msg)
		if err == nil {
			return nil
		}
		var tgErr *Error
		if !errors.As(err, &tgErr) || tgErr.Kind != RateLimited {
			return err
		}
		sleep(tgErr.RetryAfter)
	}
	return err
}

func (s *Sender) makeRequest(ctx context.Context, method string, args any) error {
	if s.scrubber == nil && s.Token != "" {
		s.scrubber = strings.NewReplacer(s.Token, "[EXPUNGED]")
	}
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        tgAPI + "/bot" + s.Token + "/" + method,
		Body:       args,
		HTTPClient: s.HTTPClient,
		Scrubber:   s.scrubber,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// https://core.telegram.org/bots/api#making-requests
type apiError struct {
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func classify(err error) *Error {
	e := &Error{Kind: Unavailable, Description: err.Error(), err: err}

	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return e
	}

	var body apiError
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr == nil && body.Description != "" {
		e.Description = body.Description
	}

	switch statusErr.StatusCode {
	case http.StatusBadRequest:
		e.Kind = BadRequest
		if strings.Contains(strings.ToLower(e.Description), "chat not found") {
			e.Kind = ChatNotFound
		}
	case http.StatusForbidden:
		e.Kind = Blocked
	case http.StatusNotFound:
		// Happens with a mistyped token; the chat is unreachable either way.
		e.Kind = ChatNotFound
	case http.StatusTooManyRequests:
		e.Kind = RateLimited
		e.RetryAfter = time.Duration(body.Parameters.RetryAfter) * time.Second
	}
	return e
}
