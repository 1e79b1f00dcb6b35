// Package ids derives the stable session fingerprint and mints event IDs.
//
// The session ID is a deterministic function of stable request features
// only: two requests from the same browser produce the same ID across
// process restarts, with no cookies involved.
package ids

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// sessionIDLen is the length of the base36 session digest.
const sessionIDLen = 8

// headerOrderLimit bounds how many header names feed the order fingerprint.
const headerOrderLimit = 15

// FingerprintInput carries the fixed-order fields hashed into the session ID.
type FingerprintInput struct {
	IP                      string
	TLSCipher               string
	HTTPProtocol            string
	UserAgent               string
	HeaderOrder             []string // header names in the order to fingerprint
	Accept                  string
	AcceptLanguage          string
	AcceptEncoding          string
	SecCHUA                 string
	SecCHUAPlatform         string
	SecCHUAMobile           string
	Connection              string
	UpgradeInsecureRequests string
}

// SessionID returns the 8-character base36 FNV-1a digest of the
// fixed-order concatenation of the fingerprint fields.
func SessionID(in FingerprintInput) string {
	parts := []string{
		in.IP,
		in.TLSCipher,
		in.HTTPProtocol,
		in.UserAgent,
		HeaderOrderFingerprint(in.HeaderOrder),
		in.Accept,
		in.AcceptLanguage,
		in.AcceptEncoding,
		in.SecCHUA,
		in.SecCHUAPlatform,
		in.SecCHUAMobile,
		in.Connection,
		in.UpgradeInsecureRequests,
	}

	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "|")))

	s := strconv.FormatUint(h.Sum64(), 36)
	if len(s) >= sessionIDLen {
		return s[:sessionIDLen]
	}
	// Left-pad short digests so the ID length is stable.
	return strings.Repeat("0", sessionIDLen-len(s)) + s
}

// HeaderOrderFingerprint builds the header-order component: the first
// headerOrderLimit names, lowercased, with proxy-injected headers removed,
// comma-joined. Proxy headers are excluded so edge hops cannot perturb the
// fingerprint.
func HeaderOrderFingerprint(names []string) string {
	kept := make([]string, 0, headerOrderLimit)
	for _, name := range names {
		if len(kept) >= headerOrderLimit {
			break
		}
		n := strings.ToLower(name)
		if isProxyHeader(n) {
			continue
		}
		kept = append(kept, n)
	}
	return strings.Join(kept, ",")
}

func isProxyHeader(lower string) bool {
	if strings.HasPrefix(lower, "cf-") {
		return true
	}
	switch lower {
	case "x-forwarded-for", "x-real-ip":
		return true
	}
	return false
}

// NewEventID mints a fresh event ID. Time-ordered UUIDv7 keeps event
// inserts append-local in the store; on entropy failure it falls back to a
// random v4.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
