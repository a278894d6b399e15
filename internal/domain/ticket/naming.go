package ticket

import (
	"fmt"
	"strings"
)

const branchSlugMaxLen = 48

// BranchName derives the VCS branch for a ticket. It is a pure function of
// the tracker key and summary so re-deriving it always yields the same
// string.
func BranchName(key, summary string) string {
	return fmt.Sprintf("ticketpilot/%s-%s", strings.ToLower(strings.TrimSpace(key)), slug(summary))
}

// PRTitle derives the review-request title for a ticket.
func PRTitle(key, summary string) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(strings.TrimSpace(key)), strings.TrimSpace(summary))
}

func slug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= branchSlugMaxLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
