package model

import "fmt"

// NoResponse marks why an answer is absent. It is a closed set: exactly one
// reason applies whenever a prompt has no real value.
type NoResponse string

const (
	// Skipped means the participant explicitly declined a skippable prompt.
	Skipped NoResponse = "SKIPPED"
	// NotDisplayed means the prompt's condition evaluated false.
	NotDisplayed NoResponse = "NOT_DISPLAYED"
	// PromptNotEnabled means the deployment disabled the prompt.
	PromptNotEnabled NoResponse = "PROMPT_NOT_ENABLED"
	// MediaNotUploaded means a media prompt was answered but the bytes never
	// arrived.
	MediaNotUploaded NoResponse = "MEDIA_NOT_UPLOADED"
)

func (n NoResponse) String() string { return string(n) }

// ParseNoResponse decodes a sentinel name. The boolean reports whether s
// named a sentinel at all.
func ParseNoResponse(s string) (NoResponse, bool) {
	switch NoResponse(s) {
	case Skipped, NotDisplayed, PromptNotEnabled, MediaNotUploaded:
		return NoResponse(s), true
	}
	return "", false
}

// IsNoResponse reports whether v is a NoResponse sentinel.
func IsNoResponse(v any) bool {
	_, ok := v.(NoResponse)
	return ok
}

var _ fmt.Stringer = Skipped
