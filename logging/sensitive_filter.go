package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces secret values.
const RedactedPlaceholder = "[REDACTED]"

// HostPlaceholder replaces a backend host or network address.
const HostPlaceholder = "***"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(password|secret|token|api_key|apikey)\s*[:=]\s*[^\s,;]{8,}`),
}

var (
	urlHostPattern = regexp.MustCompile(`(https?:)//[^/\s"']+`)

	// net.OpError: "dial tcp 10.0.0.5:7860: connect: ..." and
	// "read tcp 10.0.0.9:51234->10.0.0.5:7860: ...".
	opAddrPattern = regexp.MustCompile(`\b((?:dial|read|write) (?:tcp|udp)[46]?) \S+?:( |$)`)

	// net.DNSError: "lookup sd.internal on 127.0.0.53:53: no such host".
	lookupPattern = regexp.MustCompile(`\blookup [^\s:]+(?: on \S+?)?:( |$)`)
)

var sensitiveKeys = []string{
	"API_KEY",
	"APIKEY",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"AUTHORIZATION",
}

// RedactSensitiveData replaces API keys, bearer tokens and key=value secrets.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range secretPatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// RedactHosts hides backend addresses in value: the host of every http(s)
// URL (scheme and path are kept) and the addresses that net errors repeat
// outside the URL.
//
//	RedactHosts(`Post "http://10.0.0.5:7860/sdapi/v1/txt2img": dial tcp 10.0.0.5:7860: connect: connection refused`)
//	// `Post "http://***/sdapi/v1/txt2img": dial tcp ***: connect: connection refused`
func RedactHosts(value string) string {
	value = urlHostPattern.ReplaceAllString(value, "${1}//"+HostPlaceholder)
	value = opAddrPattern.ReplaceAllString(value, "${1} "+HostPlaceholder+":${2}")
	return lookupPattern.ReplaceAllString(value, "lookup "+HostPlaceholder+":${1}")
}

// HostRedactor hides a fixed set of hosts, typically the configured
// backends, in addition to what RedactHosts catches.
type HostRedactor struct {
	replacer *strings.Replacer
}

// NewHostRedactor builds a redactor for the hosts of urls. Entries that do
// not parse are skipped.
func NewHostRedactor(urls []string) *HostRedactor {
	var pairs []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			pairs = append(pairs, s, HostPlaceholder)
		}
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		add(u.Host)
		// A single-label name such as "sd" would also match ordinary
		// words, so bare hostnames are only added when they are dotted.
		if name := u.Hostname(); strings.Contains(name, ".") {
			add(name)
		}
	}
	// strings.Replacer prefers earlier pairs at the same position, so
	// "host:port" is listed before "host".
	return &HostRedactor{replacer: strings.NewReplacer(pairs...)}
}

// Redact applies RedactHosts and then removes the known hosts.
func (r *HostRedactor) Redact(value string) string {
	value = RedactHosts(value)
	if r == nil || r.replacer == nil {
		return value
	}
	return r.replacer.Replace(value)
}

// Scrub applies both RedactSensitiveData and RedactHosts.
func Scrub(value string) string {
	return RedactHosts(RedactSensitiveData(value))
}

// IsSensitiveField reports whether a field name suggests a secret value.
func IsSensitiveField(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}
