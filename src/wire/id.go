package wire

import (
	"regexp"

	"github.com/google/uuid"
)

// Conversation ids are "conv-" followed by 3 to 250 characters drawn from
// [A-Za-z0-9_-].
var conversationIDPattern = regexp.MustCompile(`^conv-[A-Za-z0-9_-]{3,250}$`)

// NewConversationID returns a fresh conversation id. Uniqueness relies on the
// random uuid suffix; collisions are not a practical concern at the scale of
// thousands of conversations.
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// IsValidConversationID reports whether id matches the wire format. It never
// panics and accepts arbitrary input.
func IsValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// ValidateConversationID performs the same check as IsValidConversationID and
// returns an *InvalidIDError on failure.
func ValidateConversationID(id string) error {
	if !IsValidConversationID(id) {
		return &InvalidIDError{ID: id}
	}
	return nil
}
