// Package archive optionally writes raw fetched message bytes to a local
// maildir, purely as an audit/replay trail. It never participates in
// matching, deduplication, or insertion decisions.
package archive

import (
	"fmt"
	"path/filepath"

	"github.com/emersion/go-maildir"
)

// Archiver appends raw messages to one sub-maildir per account.
type Archiver struct {
	baseDir string
	enabled bool
}

// New builds an Archiver. When enabled is false, Append is a no-op; callers
// don't need to branch on ARCHIVE_RAW_MESSAGES themselves.
func New(baseDir string, enabled bool) *Archiver {
	return &Archiver{baseDir: baseDir, enabled: enabled}
}

// Enabled reports whether raw-message archival is turned on.
func (a *Archiver) Enabled() bool {
	return a != nil && a.enabled
}

// Append writes raw (an RFC 822 message, or the best approximation the
// active fetch strategy produced) into accountID's maildir. It returns the
// maildir key so callers can log it, but nothing downstream depends on it.
func (a *Archiver) Append(accountID string, raw []byte, seen bool) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if len(raw) == 0 {
		return "", nil
	}

	dir := maildir.Dir(filepath.Join(a.baseDir, accountID))
	if err := dir.Init(); err != nil {
		return "", fmt.Errorf("archive: init maildir for account %s: %w", accountID, err)
	}

	var flags []maildir.Flag
	if seen {
		flags = []maildir.Flag{maildir.FlagSeen}
	}

	key, w, err := dir.Create(flags)
	if err != nil {
		return "", fmt.Errorf("archive: create message for account %s: %w", accountID, err)
	}
	defer w.Close()

	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("archive: write message for account %s: %w", accountID, err)
	}

	return key, nil
}
