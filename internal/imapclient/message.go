package imapclient

import (
	"fmt"
	"mime"
	"time"
)

// Message is the Session's view of one fetched mailbox entry. Parsing is
// permissive: a field that cannot be decoded falls back to a synthetic
// placeholder rather than failing the whole fetch.
type Message struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
	To        string
	Date      time.Time
	Body      string
	Seen      bool
}

const unknownSenderPlaceholder = "[Unknown sender]"

func placeholderSubject(uid uint32) string {
	return fmt.Sprintf("[Email UID: %d]", uid)
}

// decodeHeaderWord decodes an RFC 2047 MIME-encoded header value when
// recognizable; unparseable or plain input is returned unchanged.
func decodeHeaderWord(s string) string {
	if s == "" {
		return s
	}
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(s)
	if err != nil || out == "" {
		return s
	}
	return out
}

// fallbackDate is used whenever a message's Date header cannot be parsed.
// The pipeline must never stall on one broken message.
func fallbackDate(now time.Time) time.Time {
	return now
}
