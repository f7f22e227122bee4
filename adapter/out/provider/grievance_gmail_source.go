package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"grievance_server/core/port/out"
	"grievance_server/pkg/logger"
	"grievance_server/pkg/resilience"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

var _ out.MailSource = (*GmailSource)(nil)

// GmailConfig holds the OAuth client and the mailbox query.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Query        string
	MaxMessages  int
}

// GmailSource pulls raw RFC 5322 messages from a Gmail mailbox.
type GmailSource struct {
	service     *gmail.Service
	query       string
	maxMessages int
	breaker     *gobreaker.CircuitBreaker
}

// NewGmailSource builds a Gmail client that refreshes its access token
// from the configured refresh token.
func NewGmailSource(ctx context.Context, cfg GmailConfig) (*GmailSource, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
	client := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 500
	}
	return &GmailSource{
		service:     service,
		query:       cfg.Query,
		maxMessages: cfg.MaxMessages,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail")),
	}, nil
}

func (s *GmailSource) Name() string { return "gmail" }

// Fetch lists matching messages and downloads them in raw form, oldest
// first so the mailbox replays in arrival order.
func (s *GmailSource) Fetch(ctx context.Context) ([]out.RawEmail, error) {
	ids, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Bounded parallel fetch, results kept in list order.
	const maxConcurrency = 5
	type result struct {
		index    int
		internal int64
		raw      out.RawEmail
		err      error
	}

	results := make(chan result, len(ids))
	semaphore := make(chan struct{}, maxConcurrency)
	for i, id := range ids {
		go func(idx int, msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			raw, internal, err := s.get(ctx, msgID)
			results <- result{index: idx, internal: internal, raw: raw, err: err}
		}(i, id)
	}

	fetched := make([]result, 0, len(ids))
	for range ids {
		r := <-results
		if r.err != nil {
			logger.Warn("[GmailSource] skipping message %s: %v", ids[r.index], r.err)
			continue
		}
		fetched = append(fetched, r)
	}

	sort.SliceStable(fetched, func(i, j int) bool {
		if fetched[i].internal != fetched[j].internal {
			return fetched[i].internal < fetched[j].internal
		}
		return fetched[i].index < fetched[j].index
	})

	emails := make([]out.RawEmail, len(fetched))
	for i, r := range fetched {
		emails[i] = r.raw
	}
	return emails, nil
}

func (s *GmailSource) list(ctx context.Context) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < s.maxMessages {
		req := s.service.Users.Messages.List("me").MaxResults(100)
		if s.query != "" {
			req = req.Q(s.query)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := s.breaker.Execute(func() (any, error) {
			return req.Context(ctx).Do()
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		page := resp.(*gmail.ListMessagesResponse)
		for _, m := range page.Messages {
			ids = append(ids, m.Id)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(ids) > s.maxMessages {
		ids = ids[:s.maxMessages]
	}
	return ids, nil
}

func (s *GmailSource) get(ctx context.Context, id string) (out.RawEmail, int64, error) {
	resp, err := s.breaker.Execute(func() (any, error) {
		return s.service.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	})
	if err != nil {
		return out.RawEmail{}, 0, fmt.Errorf("failed to get message: %w", err)
	}
	msg := resp.(*gmail.Message)

	data, err := decodeRaw(msg.Raw)
	if err != nil {
		return out.RawEmail{}, 0, fmt.Errorf("decode raw message: %w", err)
	}
	return out.RawEmail{Name: "gmail-" + id + ".eml", Data: data}, msg.InternalDate, nil
}

// decodeRaw accepts Gmail's URL-safe base64 with or without padding.
func decodeRaw(raw string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(raw)
}
