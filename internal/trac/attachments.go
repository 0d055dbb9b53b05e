package trac

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AttachmentPath locates the file of a ticket attachment inside the
// environment and returns its path and size. The hashed layout of Trac 1.0
// is tried first, then the legacy per-ticket directory.
func (r *Reader) AttachmentPath(ticketID int, filename string) (string, int64, error) {
	candidates := []string{
		hashedAttachmentPath(r.envPath, ticketID, filename),
		legacyAttachmentPath(r.envPath, ticketID, filename),
	}

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, info.Size(), nil
		}
	}
	return "", 0, fmt.Errorf("%w: ticket %d: %s", ErrMissingAttachmentFile, ticketID, filename)
}

func hashedAttachmentPath(envPath string, ticketID int, filename string) string {
	parent := sha1Hex(strconv.Itoa(ticketID))
	return filepath.Join(envPath, "files", "attachments", "ticket",
		parent[:3], parent, sha1Hex(filename)+extension(filename))
}

func legacyAttachmentPath(envPath string, ticketID int, filename string) string {
	return filepath.Join(envPath, "attachments", "ticket",
		strconv.Itoa(ticketID), quote(filename))
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// extension returns the final dot suffix of name. Leading dots do not start
// an extension, so ".htaccess" has none.
func extension(name string) string {
	base := strings.TrimLeft(name, ".")
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return base[i:]
	}
	return ""
}

// quote percent-encodes every byte outside letters, digits and "_.-~", the
// encoding Trac used for legacy attachment file names.
func quote(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '_', c == '.', c == '-', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
