// Package gmail implements mailbox.Source against the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ledgermail/extractor/internal/common"
	"github.com/ledgermail/extractor/internal/mailbox"
	"github.com/ledgermail/extractor/internal/mailparse"
)

const gmailUser = "me"

// maxConvertDepth caps the MessagePart conversion; Gmail trees deeper than
// this are treated as malformed.
const maxConvertDepth = 32

type Config struct {
	CredentialsFile string
	TokenDir        string // one refresh-token JSON per source account id
	PageSize        int64
}

// Client is a mailbox.Source backed by the Gmail API. One API service is
// built lazily per source account and cached.
type Client struct {
	cfg    Config
	oauth  *oauth2.Config
	logger *slog.Logger

	mu       sync.Mutex
	services map[uuid.UUID]*gmailapi.Service
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret file: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Client{
		cfg:      cfg,
		oauth:    oauthConfig,
		logger:   logger,
		services: make(map[uuid.UUID]*gmailapi.Service),
	}, nil
}

func (c *Client) service(ctx context.Context, accountID uuid.UUID) (*gmailapi.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if srv, ok := c.services[accountID]; ok {
		return srv, nil
	}

	tok, err := tokenFromFile(filepath.Join(c.cfg.TokenDir, accountID.String()+".json"))
	if err != nil {
		return nil, common.NewAppError(common.KindAuthenticationFailure,
			"no stored credentials for source account", err)
	}
	httpClient := c.oauth.Client(ctx, tok)
	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	c.services[accountID] = srv
	return srv, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ListCandidateIDs pages through the provider-side search for the window.
func (c *Client) ListCandidateIDs(ctx context.Context, accountID uuid.UUID, w mailbox.Window) ([]string, error) {
	srv, err := c.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	query := mailbox.BuildQuery(w)
	c.logger.Info("mailbox.list.start", "account_id", accountID, "query", query)

	var (
		ids       []string
		pageToken string
	)
	for {
		call := srv.Users.Messages.List(gmailUser).
			MaxResults(c.cfg.PageSize).
			Q(query).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, mapGoogleError(err, "list messages")
		}
		for _, m := range list.Messages {
			ids = append(ids, m.Id)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	c.logger.Info("mailbox.list.done", "account_id", accountID, "count", len(ids))
	return ids, nil
}

// FetchMessage retrieves one full message and converts its payload into the
// normalizer's tagged tree, downloading detached attachment bodies.
func (c *Client) FetchMessage(ctx context.Context, accountID uuid.UUID, messageID string) (*mailbox.RawMessage, error) {
	srv, err := c.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get(gmailUser, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError(err, "fetch message")
	}
	if msg.Payload == nil {
		return nil, common.NewAppError(common.KindMalformedContent, "message has no payload", nil)
	}

	raw := &mailbox.RawMessage{
		ID:         msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			raw.Subject = h.Value
		case "From":
			raw.Sender = h.Value
		}
	}

	root, err := c.convertPart(ctx, srv, messageID, msg.Payload, 0)
	if err != nil {
		return nil, err
	}
	raw.Root = root
	return raw, nil
}

func (c *Client) convertPart(ctx context.Context, srv *gmailapi.Service, messageID string, p *gmailapi.MessagePart, depth int) (*mailparse.Part, error) {
	if depth > maxConvertDepth {
		return nil, common.NewAppError(common.KindMalformedContent, "mime tree too deep", nil)
	}
	out := &mailparse.Part{
		MediaType: p.MimeType,
		Filename:  p.Filename,
	}
	if p.Body != nil {
		switch {
		case p.Body.Data != "":
			data, err := base64.URLEncoding.DecodeString(p.Body.Data)
			if err != nil {
				c.logger.Warn("mailbox.fetch.body_decode_failed", "message_id", messageID, "error", err)
			} else {
				out.Body = data
			}
		case p.Body.AttachmentId != "" && p.Filename != "":
			att, err := srv.Users.Messages.Attachments.Get(gmailUser, messageID, p.Body.AttachmentId).
				Context(ctx).Do()
			if err != nil {
				return nil, mapGoogleError(err, "fetch attachment")
			}
			data, err := base64.URLEncoding.DecodeString(att.Data)
			if err != nil {
				return nil, common.NewAppError(common.KindMalformedContent, "attachment decode failed", err)
			}
			out.Body = data
		}
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		converted, err := c.convertPart(ctx, srv, messageID, child, depth+1)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, converted)
	}
	return out, nil
}

// mapGoogleError translates googleapi failures into the application error
// taxonomy so the orchestrator can decide between retry, skip and abort.
func mapGoogleError(err error, op string) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 401 || ge.Code == 403:
			return common.NewAppError(common.KindAuthenticationFailure, op, err)
		case ge.Code == 404:
			return common.NewAppError(common.KindNotFound, op+": message not found", err)
		case ge.Code == 429 || ge.Code >= 500:
			return common.NewAppError(common.KindProviderUnavailable, op, err)
		}
		return common.NewAppError(common.KindInternal, op, err)
	}
	// transport-level failures are worth a retry
	return common.NewAppError(common.KindProviderUnavailable, op, err)
}
