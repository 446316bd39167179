package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-status-relay/internal/config"
)

func TestTakeRecentStopsAtCutoff(t *testing.T) {
	cutoff := time.Date(2025, 9, 27, 9, 0, 0, 0, time.UTC)
	batch := []envelopeItem{
		{uid: 1, received: cutoff.Add(-time.Minute)},
		{uid: 3, received: cutoff.Add(2 * time.Hour)},
		{uid: 2, received: cutoff.Add(time.Hour)},
	}

	items, stop := takeRecent(batch, cutoff, 10)
	assert.True(t, stop)
	require.Len(t, items, 2)
	assert.Equal(t, uint32(3), items[0].uid)
	assert.Equal(t, uint32(2), items[1].uid)
}

func TestTakeRecentStopsAtLimit(t *testing.T) {
	cutoff := time.Date(2025, 9, 27, 9, 0, 0, 0, time.UTC)
	batch := []envelopeItem{
		{uid: 1, received: cutoff.Add(time.Hour)},
		{uid: 2, received: cutoff.Add(2 * time.Hour)},
	}

	items, stop := takeRecent(batch, cutoff, 1)
	assert.True(t, stop)
	require.Len(t, items, 1)
	assert.Equal(t, uint32(2), items[0].uid)

	items, stop = takeRecent(batch, cutoff, 5)
	assert.False(t, stop)
	assert.Len(t, items, 2)
}

func TestResolveFolder(t *testing.T) {
	mailboxes := []*imap.MailboxInfo{
		{Name: "INBOX", Delimiter: "/"},
		{Name: "INBOX/Contractors", Delimiter: "/"},
		{Name: "INBOX/Contractors/Updates", Delimiter: "/"},
		{Name: "Archive", Delimiter: "/"},
	}

	tests := []struct {
		path []string
		want string
	}{
		{nil, "INBOX"},
		{[]string{"contractors"}, "INBOX/Contractors"},
		{[]string{"Contractors", "Updates"}, "INBOX/Contractors/Updates"},
		{[]string{"Archive"}, "Archive"},
	}
	for _, tt := range tests {
		got, err := resolveFolder(mailboxes, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := resolveFolder(mailboxes, []string{"Contractors", "Missing"})
	assert.Error(t, err)
}

func TestResolveSenderPriority(t *testing.T) {
	from := &imap.Address{MailboxName: "from", HostName: "example.com"}
	sender := &imap.Address{MailboxName: "sender", HostName: "example.com"}
	reply := &imap.Address{MailboxName: "reply", HostName: "example.com"}
	broken := &imap.Address{PersonalName: "No Address"}

	assert.Equal(t, "from@example.com", resolveSender(&imap.Envelope{From: []*imap.Address{from}, Sender: []*imap.Address{sender}}))
	assert.Equal(t, "sender@example.com", resolveSender(&imap.Envelope{From: []*imap.Address{broken}, Sender: []*imap.Address{sender}}))
	assert.Equal(t, "reply@example.com", resolveSender(&imap.Envelope{ReplyTo: []*imap.Address{reply}}))
	assert.Equal(t, UnknownSender, resolveSender(&imap.Envelope{}))
}

func TestEnvelopeToItemFallsBackToEnvelopeDate(t *testing.T) {
	sent := time.Date(2025, 9, 27, 13, 15, 0, 0, time.FixedZone("MSK", 3*3600))
	item := envelopeToItem(&imap.Message{Uid: 9, Envelope: &imap.Envelope{Subject: "REQ-5", Date: sent}})

	assert.Equal(t, uint32(9), item.uid)
	assert.Equal(t, "REQ-5", item.subject)
	assert.Equal(t, time.Date(2025, 9, 27, 10, 15, 0, 0, time.UTC), item.received)
	assert.Equal(t, UnknownSender, item.sender)
}

func TestLocalSourceErrors(t *testing.T) {
	_, err := NewLocalSource(config.LocalConfig{}).Fetch(context.Background(), FilterSettings{})
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"local.host", "local.port", "local.username"}, incomplete.Missing)

	s := NewLocalSource(config.LocalConfig{Host: "127.0.0.1", Port: 1143, Username: "user"})
	s.dial = func(config.LocalConfig) (*client.Client, error) {
		return nil, errors.New("connection refused")
	}
	_, err = s.Fetch(context.Background(), FilterSettings{})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrConfigurationIncomplete)
}

// bridgeServer starts an in-memory IMAP server with INBOX/Contractors/Updates
// holding two stale messages followed by 26 recent ones, oldest first. Recent
// message i carries request number 100+i and arrived 26-i minutes before now.
func bridgeServer(t *testing.T, now time.Time) config.LocalConfig {
	t.Helper()

	be := memory.New()
	user, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	require.NoError(t, user.CreateMailbox("INBOX/Contractors"))
	require.NoError(t, user.CreateMailbox("INBOX/Contractors/Updates"))
	mbox, err := user.GetMailbox("INBOX/Contractors/Updates")
	require.NoError(t, err)

	add := func(request int, received time.Time) {
		raw := fmt.Sprintf("From: Contractor <contractor@example.com>\r\n"+
			"To: dispatch@example.com\r\n"+
			"Subject: Status update\r\n"+
			"Date: %s\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"\r\n"+
			"Заявка №%d. Позиция 1. Подрядчик в пути.\r\n", received.Format(time.RFC1123Z), request)
		require.NoError(t, mbox.CreateMessage(nil, received, bytes.NewBufferString(raw)))
	}
	add(1, now.Add(-3*time.Hour))
	add(2, now.Add(-2*time.Hour))
	for i := 0; i < 26; i++ {
		add(100+i, now.Add(-time.Duration(26-i)*time.Minute))
	}

	srv := server.New(be)
	srv.AllowInsecureAuth = true
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	return config.LocalConfig{
		Host:     "127.0.0.1",
		Port:     l.Addr().(*net.TCPAddr).Port,
		Username: "username",
		Password: "password",
		TLS:      TLSNone,
	}
}

func TestLocalSourceFetchNewestFirst(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := NewLocalSource(bridgeServer(t, now))
	s.now = func() time.Time { return now }

	msgs, err := s.Fetch(context.Background(), FilterSettings{
		LookbackMinutes: 60,
		Folder:          []string{"Contractors", "Updates"},
		MaxMessages:     3,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for i, want := range []string{"125", "124", "123"} {
		assert.Equal(t, want, msgs[i].RequestNumber)
		assert.Equal(t, "1", msgs[i].PositionNumber)
		assert.Equal(t, "подрядчик в пути", msgs[i].DetectedStatus)
		assert.Equal(t, "contractor@example.com", msgs[i].Sender)
		assert.Equal(t, "Status update", msgs[i].Subject)
		assert.Contains(t, msgs[i].Comment, "Подрядчик в пути")
	}
	assert.True(t, msgs[0].ReceivedAt.After(msgs[1].ReceivedAt))
	assert.True(t, msgs[0].ReceivedAt.Equal(now.Add(-time.Minute)), "newest received at %v", msgs[0].ReceivedAt)
}

func TestLocalSourceFetchStopsAtCutoffAcrossBatches(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := NewLocalSource(bridgeServer(t, now))
	s.now = func() time.Time { return now }

	msgs, err := s.Fetch(context.Background(), FilterSettings{
		LookbackMinutes: 60,
		Folder:          []string{"Contractors", "Updates"},
		MaxMessages:     100,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 26)

	cutoff := now.Add(-time.Hour)
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("%d", 125-i), msg.RequestNumber)
		assert.False(t, msg.ReceivedAt.Before(cutoff))
	}
}

func TestLocalSourceMissingFolder(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := NewLocalSource(bridgeServer(t, now))

	_, err := s.Fetch(context.Background(), FilterSettings{Folder: []string{"Contractors", "Missing"}})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
