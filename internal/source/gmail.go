package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

const gmailInbox = "INBOX"

// adminLabels mark items that are not received correspondence.
var adminLabels = []string{"DRAFT", "SENT", "SPAM", "TRASH", "CHAT"}

// GmailSource reads the mailbox bound to an OAuth refresh token through the
// Gmail API.
type GmailSource struct {
	cfg     config.OAuthConfig
	options []option.ClientOption
	now     func() time.Time
}

// NewGmailSource creates the token backend. Client options replace the
// refresh token flow when given.
func NewGmailSource(cfg config.OAuthConfig, opts ...option.ClientOption) *GmailSource {
	return &GmailSource{cfg: cfg, options: opts, now: time.Now}
}

func (s *GmailSource) Name() string { return config.BackendOAuth }

func (s *GmailSource) user() string {
	if s.cfg.Mailbox != "" {
		return s.cfg.Mailbox
	}
	return "me"
}

// Fetch returns received messages inside the lookback window, newest first.
func (s *GmailSource) Fetch(ctx context.Context, filters FilterSettings) ([]model.ContractorMessage, error) {
	if missing := s.cfg.MissingFields(); len(missing) > 0 {
		return nil, &IncompleteError{Backend: s.Name(), Missing: missing}
	}
	filters = filters.normalized()

	svc, err := s.service(ctx)
	if err != nil {
		return nil, unavailable(s.Name(), "authenticate", err)
	}

	labelID, err := s.resolveLabel(ctx, svc, filters.Folder)
	if err != nil {
		return nil, unavailable(s.Name(), "open folder", err)
	}

	cutoff := filters.Cutoff(s.now())
	ids, err := s.listMessageIDs(ctx, svc, labelID, cutoff, filters.MaxMessages)
	if err != nil {
		return nil, unavailable(s.Name(), "query messages", err)
	}

	messages := make([]model.ContractorMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := svc.Users.Messages.Get(s.user(), id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.WithField("message_id", id).Warnf("Failed to get message: %v", err)
			continue
		}
		if isAdministrative(msg.LabelIds) {
			continue
		}
		received := time.UnixMilli(msg.InternalDate).UTC()
		if received.Before(cutoff) {
			continue
		}
		messages = append(messages, gmailToMessage(msg, received))
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.After(messages[j].ReceivedAt)
	})
	if len(messages) > filters.MaxMessages {
		messages = messages[:filters.MaxMessages]
	}
	return messages, nil
}

func (s *GmailSource) service(ctx context.Context) (*gmail.Service, error) {
	opts := s.options
	if len(opts) == 0 {
		oauth2Config := &oauth2.Config{
			ClientID:     s.cfg.ClientID,
			ClientSecret: s.cfg.ClientSecret,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		}
		tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.cfg.RefreshToken})
		if _, err := tokenSource.Token(); err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(tokenSource)}
		if s.cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(s.cfg.Endpoint))
		}
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// resolveLabel maps a folder path onto a label id. Nested labels are named
// with "/" separators.
func (s *GmailSource) resolveLabel(ctx context.Context, svc *gmail.Service, folder []string) (string, error) {
	if len(folder) == 0 {
		return gmailInbox, nil
	}
	name := strings.Join(folder, "/")

	resp, err := svc.Users.Labels.List(s.user()).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, label := range resp.Labels {
		if strings.EqualFold(label.Name, name) {
			return label.Id, nil
		}
	}
	return "", fmt.Errorf("folder %q not found", name)
}

func (s *GmailSource) listMessageIDs(ctx context.Context, svc *gmail.Service, labelID string, cutoff time.Time, limit int) ([]string, error) {
	query := fmt.Sprintf("after:%d", cutoff.Unix())
	call := svc.Users.Messages.List(s.user()).LabelIds(labelID).Q(query).MaxResults(int64(limit))

	var ids []string
	pageToken := ""
	for len(ids) < limit {
		if pageToken != "" {
			call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

func isAdministrative(labels []string) bool {
	for _, label := range labels {
		if slices.Contains(adminLabels, label) {
			return true
		}
	}
	return false
}

func gmailToMessage(msg *gmail.Message, received time.Time) model.ContractorMessage {
	var subject, from, sender, replyTo string
	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch strings.ToLower(header.Name) {
			case "subject":
				subject = decodeHeader(header.Value)
			case "from":
				from = header.Value
			case "sender":
				sender = header.Value
			case "reply-to":
				replyTo = header.Value
			}
		}
	}

	var text, html string
	collectGmailBody(msg.Payload, &text, &html)
	body := normalizeNewlines(text)
	if strings.TrimSpace(body) == "" {
		body = htmlToPlainText(html)
	}

	return newMessage(subject, body, firstSender(from, sender, replyTo), received)
}

// collectGmailBody walks the part tree keeping the first plain and HTML bodies.
func collectGmailBody(part *gmail.MessagePart, text, html *string) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		if data, err := decodeBase64URL(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if *text == "" {
					*text = string(data)
				}
			case "text/html":
				if *html == "" {
					*html = string(data)
				}
			}
		}
	}
	for _, sub := range part.Parts {
		collectGmailBody(sub, text, html)
	}
}

func decodeBase64URL(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}

func firstSender(values ...string) string {
	for _, v := range values {
		if addr := parseSender(v); addr != "" {
			return addr
		}
	}
	return UnknownSender
}
