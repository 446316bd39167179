package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

// scanBatch is how many sequence numbers are inspected per round trip.
const scanBatch uint32 = 25

// TLS modes for the local bridge connection.
const (
	TLSNone     = "none"
	TLSImplicit = "tls"
	TLSStartTLS = "starttls"
)

// LocalSource reads the account exposed by the desktop mail client over its
// local IMAP bridge.
type LocalSource struct {
	cfg  config.LocalConfig
	dial func(cfg config.LocalConfig) (*client.Client, error)
	now  func() time.Time
}

// NewLocalSource creates the local automation backend.
func NewLocalSource(cfg config.LocalConfig) *LocalSource {
	return &LocalSource{cfg: cfg, dial: dialBridge, now: time.Now}
}

func (s *LocalSource) Name() string { return config.BackendLocal }

// Fetch walks the folder from the newest item and stops at the first message
// older than the cutoff or once the limit is reached.
func (s *LocalSource) Fetch(ctx context.Context, filters FilterSettings) ([]model.ContractorMessage, error) {
	if missing := s.cfg.MissingFields(); len(missing) > 0 {
		return nil, &IncompleteError{Backend: s.Name(), Missing: missing}
	}
	filters = filters.normalized()

	c, err := s.dial(s.cfg)
	if err != nil {
		return nil, unavailable(s.Name(), "connect", err)
	}
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, unavailable(s.Name(), "authenticate", err)
	}

	mailboxes, err := listMailboxes(c)
	if err != nil {
		return nil, unavailable(s.Name(), "open folder", err)
	}
	name, err := resolveFolder(mailboxes, filters.Folder)
	if err != nil {
		return nil, unavailable(s.Name(), "open folder", err)
	}
	status, err := c.Select(name, true)
	if err != nil {
		return nil, unavailable(s.Name(), "open folder", err)
	}

	cutoff := filters.Cutoff(s.now())
	picked, err := scanRecent(ctx, c, status.Messages, cutoff, filters.MaxMessages)
	if err != nil {
		return nil, unavailable(s.Name(), "enumerate messages", err)
	}
	if len(picked) == 0 {
		return nil, nil
	}

	bodies, err := fetchBodies(c, picked)
	if err != nil {
		return nil, unavailable(s.Name(), "read messages", err)
	}

	messages := make([]model.ContractorMessage, 0, len(picked))
	for _, item := range picked {
		messages = append(messages, newMessage(item.subject, bodies[item.uid], item.sender, item.received))
	}
	return messages, nil
}

func dialBridge(cfg config.LocalConfig) (*client.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	switch strings.ToLower(cfg.TLS) {
	case TLSImplicit:
		return client.DialTLS(addr, tlsConfig)
	case TLSStartTLS:
		c, err := client.Dial(addr)
		if err != nil {
			return nil, err
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, err
		}
		return c, nil
	default:
		return client.Dial(addr)
	}
}

func listMailboxes(c *client.Client) ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	var mailboxes []*imap.MailboxInfo
	for m := range ch {
		mailboxes = append(mailboxes, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return mailboxes, nil
}

// resolveFolder descends from the inbox by child name. A first segment that
// is not under the inbox may also match a top level folder.
func resolveFolder(mailboxes []*imap.MailboxInfo, path []string) (string, error) {
	current := imap.InboxName
	for _, m := range mailboxes {
		if strings.EqualFold(m.Name, imap.InboxName) {
			current = m.Name
		}
	}

	for i, segment := range path {
		next, ok := childFolder(mailboxes, current, segment)
		if !ok && i == 0 {
			next, ok = childFolder(mailboxes, "", segment)
		}
		if !ok {
			return "", fmt.Errorf("folder %q not found under %q", segment, current)
		}
		current = next
	}
	return current, nil
}

func childFolder(mailboxes []*imap.MailboxInfo, parent, name string) (string, bool) {
	for _, m := range mailboxes {
		candidate := name
		if parent != "" {
			candidate = parent + m.Delimiter + name
		}
		if strings.EqualFold(m.Name, candidate) {
			return m.Name, true
		}
	}
	return "", false
}

type envelopeItem struct {
	uid      uint32
	subject  string
	sender   string
	received time.Time
}

// scanRecent inspects the folder newest first in batches of scanBatch.
func scanRecent(ctx context.Context, c *client.Client, total uint32, cutoff time.Time, limit int) ([]envelopeItem, error) {
	var picked []envelopeItem
	for hi := total; hi >= 1 && len(picked) < limit; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo := uint32(1)
		if hi > scanBatch {
			lo = hi - scanBatch + 1
		}

		batch, err := fetchEnvelopes(c, lo, hi)
		if err != nil {
			return nil, err
		}
		items, stop := takeRecent(batch, cutoff, limit-len(picked))
		picked = append(picked, items...)
		if stop || lo == 1 {
			break
		}
		hi = lo - 1
	}
	return picked, nil
}

func fetchEnvelopes(c *client.Client, lo, hi uint32) ([]envelopeItem, error) {
	seqset := new(imap.SeqSet)
	seqset.AddRange(lo, hi)

	ch := make(chan *imap.Message, hi-lo+1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}, ch)
	}()

	var items []envelopeItem
	for msg := range ch {
		items = append(items, envelopeToItem(msg))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch envelopes: %w", err)
	}
	return items, nil
}

func envelopeToItem(msg *imap.Message) envelopeItem {
	item := envelopeItem{uid: msg.Uid, received: msg.InternalDate.UTC(), sender: UnknownSender}
	if env := msg.Envelope; env != nil {
		item.subject = decodeHeader(env.Subject)
		item.sender = resolveSender(env)
		if msg.InternalDate.IsZero() {
			item.received = env.Date.UTC()
		}
	}
	return item
}

// takeRecent sorts a batch newest first and keeps items until one falls
// before the cutoff or remaining is exhausted. stop reports that scanning
// should end.
func takeRecent(batch []envelopeItem, cutoff time.Time, remaining int) (items []envelopeItem, stop bool) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].received.After(batch[j].received)
	})
	for _, item := range batch {
		if remaining <= 0 {
			return items, true
		}
		if item.received.Before(cutoff) {
			return items, true
		}
		items = append(items, item)
		remaining--
	}
	return items, remaining <= 0
}

// resolveSender prefers From, then Sender, then Reply-To.
func resolveSender(env *imap.Envelope) string {
	for _, list := range [][]*imap.Address{env.From, env.Sender, env.ReplyTo} {
		for _, addr := range list {
			if addr != nil && addr.MailboxName != "" && addr.HostName != "" {
				return addr.Address()
			}
		}
	}
	return UnknownSender
}

func fetchBodies(c *client.Client, items []envelopeItem) (map[uint32]string, error) {
	seqset := new(imap.SeqSet)
	for _, item := range items {
		seqset.AddNum(item.uid)
	}

	section := &imap.BodySectionName{Peek: true}
	ch := make(chan *imap.Message, len(items))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, ch)
	}()

	bodies := make(map[uint32]string, len(items))
	for msg := range ch {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		text, err := readTextBody(r)
		if err != nil {
			logrus.WithField("uid", msg.Uid).Warnf("Failed to parse message body: %v", err)
			continue
		}
		bodies[msg.Uid] = text
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch bodies: %w", err)
	}
	return bodies, nil
}
