package links

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultHosts are the video hosts accepted when no list is configured.
var DefaultHosts = []string{"instagram.com", "facebook.com", "youtube.com", "youtu.be"}

// Matcher finds links to a fixed set of hosts in message text.
type Matcher struct {
	re *regexp.Regexp
}

// anyURL matches something that looks like a link to any host.
var anyURL = regexp.MustCompile(`(?i)(?:https?://\S+|(?:^|\s)(?:www\.)?(?:[a-z0-9\-]+\.)+[a-z]{2,}/\S*)`)

func NewMatcher(hosts []string) (*Matcher, error) {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}

	quoted := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "www.")
		if h == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(h))
	}

	if len(quoted) == 0 {
		return nil, fmt.Errorf("no hosts configured")
	}

	// the host may carry subdomains but must not be glued to a longer name
	// (notyoutube.com), continue past the listed suffix (youtube.com.evil.io)
	// or sit inside another link's path, query or fragment
	pattern := `(?i)(?:^|[^\w.\-/=?&%@:#,+~])((?:https?://)?(?:[\w\-]+\.)*(?:` +
		strings.Join(quoted, "|") +
		`)/[\w\-/?&=.%@+~]+)`

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling link pattern: %w", err)
	}

	return &Matcher{re: re}, nil
}

// Find returns the first supported link in text. Links without a scheme
// get https:// prepended.
func (m *Matcher) Find(text string) (string, bool) {
	sub := m.re.FindStringSubmatch(text)
	if sub == nil {
		return "", false
	}

	link := strings.TrimRight(sub[1], ".")
	lower := strings.ToLower(link)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		link = "https://" + link
	}

	return link, true
}

func (m *Matcher) IsValid(text string) bool {
	_, ok := m.Find(text)
	return ok
}

// HasURL reports whether text contains a link to any host, supported or not.
func (m *Matcher) HasURL(text string) bool {
	return anyURL.MatchString(text)
}
