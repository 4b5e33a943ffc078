// Package imapclient implements one finite IMAP conversation: connect,
// authenticate, list/select folders, fetch messages with protocol
// fallbacks, and the post-delivery side effects the Processor issues
// after materializing a FeedItem.
package imapclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/metrics"
	"github.com/fenilsonani/feedmailer/internal/model"
)

// State is a position in the Session's strictly-forward state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session is one conversation with an IMAP server, scoped to a single
// Account. Any error below StateSelected is fatal: the caller discards
// the Session and opens a new one rather than attempting repair.
type Session struct {
	client     *imapclient.Client
	state      State
	account    *model.Account
	folder     string
	bridge     bool
	selectData *imapclient.SelectData
}

const dialTimeout = 10 * time.Second

// Connect dials the account's host/port, optionally wraps it in TLS,
// applies the CRLF-normalization write wrapper when the host looks like a
// local bridge, and logs in. A failure at any point here is fatal.
func Connect(ctx context.Context, acct *model.Account) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", acct.Host, acct.Port)
	bridge := isLocalBridge(acct.Host, acct.Port)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.IMAPConnections.WithLabelValues(acct.ID, "connect_failed").Inc()
		return nil, apperr.Wrap(apperr.KindTransient, "imap connect failed", err)
	}

	if acct.UseTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: acct.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			metrics.IMAPConnections.WithLabelValues(acct.ID, "tls_failed").Inc()
			return nil, apperr.Wrap(apperr.KindTransient, "imap tls handshake failed", err)
		}
		conn = tlsConn
	}

	if bridge {
		metrics.BridgeDetections.Inc()
		conn = newCRLFConn(conn)
	}

	client := imapclient.New(conn, &imapclient.Options{})
	sess := &Session{client: client, state: StateConnected, account: acct, bridge: bridge}

	if err := client.Login(acct.Username, acct.Password).Wait(); err != nil {
		client.Close()
		metrics.IMAPConnections.WithLabelValues(acct.ID, "auth_failed").Inc()
		return nil, apperr.Wrap(apperr.KindAuth, "imap login failed", err)
	}
	sess.state = StateAuthenticated
	metrics.IMAPConnections.WithLabelValues(acct.ID, "success").Inc()
	return sess, nil
}

// ListFolders tries three LIST patterns in order, returning the first
// non-empty result. An empty result across all three is reported back as
// an empty, non-error slice.
func (s *Session) ListFolders(ctx context.Context) ([]string, error) {
	patterns := [][2]string{{"", "*"}, {"INBOX", "*"}, {"", "*"}}
	var lastErr error
	for _, p := range patterns {
		mailboxes, err := s.client.List(p[0], p[1], nil).Collect()
		if err != nil {
			lastErr = err
			continue
		}
		if len(mailboxes) == 0 {
			continue
		}
		names := make([]string, len(mailboxes))
		for i, mb := range mailboxes {
			names[i] = mb.Mailbox
		}
		return names, nil
	}
	if lastErr != nil {
		return nil, apperr.Wrap(apperr.KindProtocol, "list folders failed", lastErr)
	}
	return nil, nil
}

// SelectFolder selects name, falling back to path-separator rewrites, a
// stripped "Folders/" prefix, and finally INBOX. readOnly uses EXAMINE so
// no implicit \Seen is set.
func (s *Session) SelectFolder(ctx context.Context, name string, readOnly bool) error {
	candidates := folderAlternatives(name)

	var lastErr error
	for i, candidate := range candidates {
		data, err := s.doSelect(candidate, readOnly)
		if err == nil {
			s.folder = candidate
			s.selectData = data
			s.state = StateSelected
			if i > 0 {
				// Surfaced by the caller's logger, not here: the Session
				// has no logger of its own.
			}
			return nil
		}
		lastErr = err
	}

	available, _ := s.ListFolders(ctx)
	return apperr.WithDetail(apperr.KindProtocol, "folder not found", map[string]any{
		"requested": name,
		"available": available,
	})
}

func (s *Session) doSelect(name string, readOnly bool) (*imapclient.SelectData, error) {
	var opts *imap.SelectOptions
	if readOnly {
		opts = &imap.SelectOptions{ReadOnly: true}
	}
	return s.client.Select(name, opts).Wait()
}

// folderAlternatives returns the candidate list per spec: requested name
// verbatim, separator-rewritten variants, a Folders/-stripped variant, and
// finally INBOX.
func folderAlternatives(name string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}

	add(name)
	add(strings.ReplaceAll(name, "/", "."))
	add(strings.ReplaceAll(name, ".", "/"))
	if strings.HasPrefix(name, "Folders/") {
		add(strings.TrimPrefix(name, "Folders/"))
	}
	add("INBOX")
	return out
}

// MarkSeen sets \Seen on the given UID in the currently selected folder.
func (s *Session) MarkSeen(ctx context.Context, uid uint32) error {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))
	storeFlags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := s.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "mark seen failed", err)
	}
	return nil
}

// DeleteByUID sets \Deleted on the given UID and expunges it.
func (s *Session) DeleteByUID(ctx context.Context, uid uint32) error {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))
	storeFlags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := s.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "delete failed", err)
	}
	if err := s.client.Expunge().Close(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "expunge failed", err)
	}
	return nil
}

// MoveByUID uses the server's MOVE extension when present, else emulates
// it with COPY + \Deleted + EXPUNGE.
func (s *Session) MoveByUID(ctx context.Context, uid uint32, targetFolder string) error {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	if _, err := s.client.Move(uidSet, targetFolder).Wait(); err == nil {
		return nil
	}

	if _, err := s.client.Copy(uidSet, targetFolder).Wait(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "move (copy fallback) failed", err)
	}
	storeFlags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := s.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "move (copy fallback) delete-mark failed", err)
	}
	if err := s.client.Expunge().Close(); err != nil {
		return apperr.Wrap(apperr.KindSideEffect, "move (copy fallback) expunge failed", err)
	}
	return nil
}

// Close logs out and closes the underlying connection. Failure to log out
// cleanly is not surfaced as an error; some servers misbehave on LOGOUT.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	_ = s.client.Logout().Wait()
	s.state = StateLoggedOut
	return s.client.Close()
}

// IsBridge reports whether this Session detected a local-bridge server.
func (s *Session) IsBridge() bool { return s.bridge }

// State returns the Session's current position in its state machine.
func (s *Session) State() State { return s.state }
