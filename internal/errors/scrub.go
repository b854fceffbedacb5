package errors

import (
	"regexp"
	"strings"
)

var (
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+\S+`)
	jwtPattern       = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*(\.[A-Za-z0-9_-]*)?`)
	goroutinePattern = regexp.MustCompile(`goroutine \d+ \[[^\]]*\]:?`)
	sourcePosPattern = regexp.MustCompile(`\S*\.go:\d+(:\d+)?`)
	pathPattern      = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[/\\][\w.@~-]+){2,}[/\\]?`)
)

// minCredentialLen keeps very short credentials from blanking ordinary words.
const minCredentialLen = 8

// Scrub removes anything from a caller-facing message that could leak a
// credential or internal detail. credential may be empty.
func Scrub(msg, credential string) string {
	if len(credential) >= minCredentialLen {
		msg = strings.ReplaceAll(msg, credential, "[redacted]")
	}
	msg = bearerPattern.ReplaceAllString(msg, "[redacted]")
	msg = jwtPattern.ReplaceAllString(msg, "[redacted]")
	msg = goroutinePattern.ReplaceAllString(msg, "")
	msg = sourcePosPattern.ReplaceAllString(msg, "")
	msg = pathPattern.ReplaceAllString(msg, "[path]")
	return strings.TrimSpace(msg)
}

// PublicMessage is the message a caller may see for err. Internal errors
// never expose their cause.
func PublicMessage(err error, credential string) (ErrorCode, int, string) {
	appErr := As(err)
	msg := appErr.Message
	if appErr.Code == ErrInternal {
		msg = "internal error"
	}
	return appErr.Code, appErr.Status, Scrub(msg, credential)
}
