package runbook

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// githubBlobPattern matches GitHub blob URLs:
// https://github.com/{owner}/{repo}/blob/{ref}/{path...}
var githubBlobPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/blob/([^/]+)(?:/(.*))?$`)

// rawContentURL converts a GitHub blob URL to a raw content URL.
// Non-GitHub URLs and already-raw URLs pass through unchanged.
func rawContentURL(source string) string {
	parsed, err := url.Parse(source)
	if err != nil {
		return source
	}
	if parsed.Host == "raw.githubusercontent.com" {
		return source
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return source
	}

	matches := githubBlobPattern.FindStringSubmatch(parsed.Path)
	if matches == nil {
		return source
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s",
		matches[1], matches[2], matches[3], matches[4])
}

// ValidateURL checks that the URL uses http or https and, when an
// allowlist is configured, that its domain is on it.
func ValidateURL(source string, allowedDomains []string) error {
	parsed, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}

	if len(allowedDomains) > 0 {
		host := strings.ToLower(parsed.Hostname())
		allowed := false
		for _, domain := range allowedDomains {
			if host == domain || host == "www."+domain {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("domain %q not in allowed list", host)
		}
	}

	return nil
}
