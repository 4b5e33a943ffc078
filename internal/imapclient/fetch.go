package imapclient

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/fenilsonani/feedmailer/internal/apperr"
	"github.com/fenilsonani/feedmailer/internal/metrics"
)

const (
	perMessageSoftTimeout = 5 * time.Second
	perStrategyHardTimeout = 30 * time.Second
	bridgeFetchCount       = 20
	uidDrivenFetchCount    = 5
)

type fetchStrategy struct {
	name string
	run  func(ctx context.Context, s *Session, limit uint32) ([]*Message, error)
}

// FetchRecent fetches up to limit of the most recent messages in the
// currently selected folder, trying fallback strategies until one yields
// at least one message. It fails with ServerIncompatible if every strategy
// is exhausted.
func (s *Session) FetchRecent(ctx context.Context, limit int) ([]*Message, error) {
	if s.state != StateSelected {
		return nil, apperr.New(apperr.KindProtocol, "fetch requires a selected folder")
	}

	n := uint32(limit)

	var strategies []fetchStrategy
	if s.bridge {
		strategies = []fetchStrategy{
			{"bridge_merge", bridgeMergeFetch},
			{"envelope_only", envelopeOnlyFetch},
			{"uid_only", uidOnlyFetch},
		}
	} else {
		strategies = []fetchStrategy{
			{"headers_only", headersOnlyFetch},
			{"headers_peek_body", headersPeekBodyFetch},
			{"flags_uid_only", flagsUIDOnlyFetch},
			{"uid_driven_individual", uidDrivenIndividualFetch},
		}
	}

	for _, strat := range strategies {
		stratCtx, cancel := context.WithTimeout(ctx, perStrategyHardTimeout)
		msgs, err := strat.run(stratCtx, s, n)
		cancel()

		if err != nil {
			metrics.FetchAttempts.WithLabelValues(strat.name, "error").Inc()
			continue
		}
		if len(msgs) == 0 {
			metrics.FetchAttempts.WithLabelValues(strat.name, "empty").Inc()
			continue
		}
		metrics.FetchAttempts.WithLabelValues(strat.name, "success").Inc()
		return msgs, nil
	}

	return nil, apperr.WithDetail(apperr.KindProtocol, "server incompatible with every fetch strategy", map[string]any{
		"host": s.account.Host,
	})
}

func selectedSeqSet(sel *imapclient.SelectData, limit uint32) imap.SeqSet {
	seq := imap.SeqSet{}
	if sel.NumMessages == 0 {
		return seq
	}
	start := uint32(1)
	if sel.NumMessages > limit {
		start = sel.NumMessages - limit + 1
	}
	seq.AddRange(start, sel.NumMessages)
	return seq
}

// headersOnlyFetch requests envelope + FLAGS + UID, treating the envelope
// as a stand-in for RFC822 headers.
func headersOnlyFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	seq := selectedSeqSet(s.selectData, limit)
	if seq.Empty() {
		return nil, nil
	}
	opts := &imap.FetchOptions{Flags: true, Envelope: true, UID: true}
	return collectFetch(ctx, s, seq, opts, false)
}

// headersPeekBodyFetch requests envelope + a peeked full-body section so
// \Seen is never implicitly set, plus FLAGS + UID.
func headersPeekBodyFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	seq := selectedSeqSet(s.selectData, limit)
	if seq.Empty() {
		return nil, nil
	}
	opts := &imap.FetchOptions{
		Flags:    true,
		Envelope: true,
		UID:      true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true},
		},
	}
	return collectFetch(ctx, s, seq, opts, true)
}

// flagsUIDOnlyFetch asks for nothing but flags and UID; messages built
// from this strategy carry only synthetic placeholder content.
func flagsUIDOnlyFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	seq := selectedSeqSet(s.selectData, limit)
	if seq.Empty() {
		return nil, nil
	}
	opts := &imap.FetchOptions{Flags: true, UID: true}
	return collectFetch(ctx, s, seq, opts, false)
}

// uidDrivenIndividualFetch performs UID SEARCH ALL, takes up to
// uidDrivenFetchCount UIDs, and fetches each individually by FLAGS+UID.
func uidDrivenIndividualFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, err
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > uidDrivenFetchCount {
		uids = uids[len(uids)-uidDrivenFetchCount:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	opts := &imap.FetchOptions{Flags: true, UID: true}
	return collectFetchByUID(ctx, s, uidSet, opts, false)
}

// envelopeOnlyFetch is the bridge flow's second fallback: envelope, FLAGS,
// UID, same shape as headersOnlyFetch.
func envelopeOnlyFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	return headersOnlyFetch(ctx, s, limit)
}

// uidOnlyFetch is the bridge flow's last-resort fallback.
func uidOnlyFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	return flagsUIDOnlyFetch(ctx, s, limit)
}

// bridgeMergeFetch performs UID SEARCH ALL, then a header peek for the
// newest messages, then a second peek of the text body for the same UIDs,
// merging body text into the header-derived messages by UID. This mirrors
// a local bridge's tendency to time out on combined header+body FETCH but
// tolerate two smaller ones in sequence.
func bridgeMergeFetch(ctx context.Context, s *Session, limit uint32) ([]*Message, error) {
	n := limit
	if n > bridgeFetchCount {
		n = bridgeFetchCount
	}

	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, err
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if uint32(len(uids)) > n {
		uids = uids[uint32(len(uids))-n:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	headerOpts := &imap.FetchOptions{
		Flags: true, Envelope: true, UID: true,
		BodySection: []*imap.FetchItemBodySection{{Specifier: imap.PartSpecifierHeader, Peek: true}},
	}
	headerMsgs, err := collectFetchByUID(ctx, s, uidSet, headerOpts, true)
	if err != nil || len(headerMsgs) == 0 {
		return nil, err
	}

	textOpts := &imap.FetchOptions{
		UID: true,
		BodySection: []*imap.FetchItemBodySection{{Specifier: imap.PartSpecifierText, Peek: true}},
	}
	textMsgs, err := collectFetchByUID(ctx, s, uidSet, textOpts, true)
	if err != nil {
		// Text fetch failing still leaves usable header-only messages.
		return headerMsgs, nil
	}

	textByUID := make(map[uint32]string, len(textMsgs))
	for _, m := range textMsgs {
		textByUID[m.UID] = m.Body
	}
	for _, m := range headerMsgs {
		if body, ok := textByUID[m.UID]; ok {
			m.Body = body
		}
	}
	return headerMsgs, nil
}

// collectFetch drains a sequence-number-addressed FETCH command, applying
// the per-message soft timeout to each item read.
func collectFetch(ctx context.Context, s *Session, seq imap.SeqSet, opts *imap.FetchOptions, isBody bool) ([]*Message, error) {
	cmd := s.client.Fetch(seq, opts)
	return drainFetch(ctx, cmd, isBody)
}

func collectFetchByUID(ctx context.Context, s *Session, uidSet imap.UIDSet, opts *imap.FetchOptions, isBody bool) ([]*Message, error) {
	cmd := s.client.Fetch(uidSet, opts)
	return drainFetch(ctx, cmd, isBody)
}

func drainFetch(ctx context.Context, cmd *imapclient.FetchCommand, isBody bool) ([]*Message, error) {
	var out []*Message
	for {
		itemCtx, cancel := context.WithTimeout(ctx, perMessageSoftTimeout)
		item, err := nextFetchItem(itemCtx, cmd)
		cancel()
		if err != nil {
			_ = cmd.Close()
			return out, err
		}
		if item == nil {
			break
		}
		out = append(out, messageFromFetchItem(item))
	}
	if err := cmd.Close(); err != nil {
		return out, err
	}
	return out, nil
}

// nextFetchItem wraps cmd.Next()/Collect() with a context deadline; the
// underlying library call is not itself context-aware, so the timeout is
// advisory and only prevents waiting past it for the *next* item.
func nextFetchItem(ctx context.Context, cmd *imapclient.FetchCommand) (*imapclient.FetchMessageBuffer, error) {
	type result struct {
		buf *imapclient.FetchMessageBuffer
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msgData := cmd.Next()
		if msgData == nil {
			ch <- result{}
			return
		}
		buf, err := msgData.Collect()
		ch <- result{buf: buf, err: err}
	}()

	select {
	case r := <-ch:
		return r.buf, r.err
	case <-ctx.Done():
		return nil, nil
	}
}

func messageFromFetchItem(buf *imapclient.FetchMessageBuffer) *Message {
	m := &Message{UID: uint32(buf.UID)}

	for _, f := range buf.Flags {
		if f == imap.FlagSeen {
			m.Seen = true
		}
	}

	if buf.Envelope != nil {
		m.Subject = decodeHeaderWord(buf.Envelope.Subject)
		m.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			m.From = buf.Envelope.From[0].Addr()
		}
		if len(buf.Envelope.To) > 0 {
			m.To = buf.Envelope.To[0].Addr()
		}
		if buf.Envelope.MessageID != "" {
			m.MessageID = buf.Envelope.MessageID
		}
	}

	for _, section := range buf.BodySection {
		m.Body = string(section.Bytes)
	}

	if m.Subject == "" {
		m.Subject = placeholderSubject(m.UID)
	}
	if m.From == "" {
		m.From = unknownSenderPlaceholder
	}
	if m.Date.IsZero() {
		m.Date = fallbackDate(time.Now())
	}

	return m
}
