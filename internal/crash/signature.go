package crash

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// SignatureLen is the number of hex characters kept from the digest.
const SignatureLen = 16

var (
	pythonLineRe = regexp.MustCompile(`\bline \d+`)
	fileLineRe   = regexp.MustCompile(`(\.[A-Za-z]\w*):\d+(:\d+)?`)
	hexAddrRe    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	goroutineRe  = regexp.MustCompile(`\bgoroutine \d+`)
	offsetRe     = regexp.MustCompile(`\+0x\?`)
	absPathRe    = regexp.MustCompile(`(^|[\s"'(=])(?:[A-Za-z]:)?(?:[/\\][^/\\\s"'():]+)+[/\\]([^/\\\s"'():]+)`)
	spaceRe      = regexp.MustCompile(`[ \t]+`)
)

// Normalize strips the parts of a traceback that vary between otherwise
// identical crashes: line numbers, memory addresses, goroutine ids and
// directory prefixes. Blank lines are dropped.
func Normalize(text string) string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = hexAddrRe.ReplaceAllString(line, "0x?")
		line = offsetRe.ReplaceAllString(line, "")
		line = absPathRe.ReplaceAllString(line, "${1}${2}")
		line = pythonLineRe.ReplaceAllString(line, "line N")
		line = fileLineRe.ReplaceAllString(line, "$1:N")
		line = goroutineRe.ReplaceAllString(line, "goroutine N")
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Signature returns the crash signature: the first SignatureLen hex chars of
// the SHA-256 of the normalized traceback. When the traceback is empty the
// error summary is hashed instead.
func Signature(errText, traceback string) string {
	normalized := Normalize(traceback)
	if normalized == "" {
		normalized = Normalize(errText)
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:SignatureLen]
}
