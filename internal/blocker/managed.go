package blocker

import (
	"bytes"
	"fmt"
	"strings"
)

// The managed block is clearly delimited so unrelated entries are never
// touched. Entries redirect to the loopback address.
const (
	blockBegin = "# >>> prodtracker managed block >>>"
	blockEnd   = "# <<< prodtracker managed block <<<"
	redirectIP = "127.0.0.1"
)

// appendManagedBlock returns hosts content with the managed block
// appended. Any stale managed block (e.g. left by a crash) is removed
// first, and domains already resolvable from unmanaged lines are
// skipped.
func appendManagedBlock(content []byte, domains []string) []byte {
	base := stripManagedBlock(content)

	var buf bytes.Buffer
	buf.Write(base)
	if len(base) > 0 && !bytes.HasSuffix(base, []byte("\n")) {
		buf.WriteByte('\n')
	}

	buf.WriteString(blockBegin + "\n")
	for _, d := range domains {
		if hostsContainDomain(base, d) {
			continue
		}
		fmt.Fprintf(&buf, "%s\t%s\n", redirectIP, d)
	}
	buf.WriteString(blockEnd + "\n")
	return buf.Bytes()
}

// stripManagedBlock removes the delimited managed section, leaving the
// rest of the file byte-for-byte intact.
func stripManagedBlock(content []byte) []byte {
	lines := strings.Split(string(content), "\n")
	var kept []string
	inBlock := false
	for _, line := range lines {
		switch strings.TrimSpace(line) {
		case blockBegin:
			inBlock = true
			continue
		case blockEnd:
			inBlock = false
			continue
		}
		if !inBlock {
			kept = append(kept, line)
		}
	}
	return []byte(strings.Join(kept, "\n"))
}

// hostsContainDomain reports whether an unmanaged line already maps the
// domain.
func hostsContainDomain(content []byte, domain string) bool {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		for _, f := range fields[1:] {
			if strings.EqualFold(f, domain) {
				return true
			}
		}
	}
	return false
}
