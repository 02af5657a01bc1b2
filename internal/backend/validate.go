package backend

import (
	"fmt"
	"strings"
)

// Message is one turn of a multi-turn conversation input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

// ValidateMessages checks multi-turn input before dispatch. Malformed input
// fails immediately with a validation error and is never retried.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return NewError(CategoryValidation, "empty message list", nil)
	}
	for i, m := range messages {
		role := strings.TrimSpace(m.Role)
		if role == "" {
			return NewError(CategoryValidation,
				fmt.Sprintf("message %d missing role", i), nil)
		}
		if !validRoles[role] {
			return NewError(CategoryValidation,
				fmt.Sprintf("message %d has invalid role %q (want system, user or assistant)", i, m.Role), nil)
		}
		if strings.TrimSpace(m.Content) == "" {
			return NewError(CategoryValidation,
				fmt.Sprintf("message %d has empty content", i), nil)
		}
	}
	return nil
}
