package scan

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"qrlogin/attendance-service/internal/store"
)

const maxIdentifierLength = 64

type badgePayload struct {
	EmployeeID string          `json:"employee_id"`
	UserID     json.RawMessage `json:"user_id,omitempty"`
}

// ParseBadge extracts the employee id from a decoded badge. Badges carry either
// the bare id or a JSON object with an employee_id field.
func ParseBadge(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", fmt.Errorf("%w: empty badge", store.ErrInvalidIdentifier)
	}
	if strings.HasPrefix(payload, "{") {
		var badge badgePayload
		if err := json.Unmarshal([]byte(payload), &badge); err != nil {
			return "", fmt.Errorf("%w: malformed badge payload", store.ErrInvalidIdentifier)
		}
		payload = strings.TrimSpace(badge.EmployeeID)
		if payload == "" {
			return "", fmt.Errorf("%w: badge has no employee_id", store.ErrInvalidIdentifier)
		}
	}
	if len(payload) > maxIdentifierLength {
		return "", fmt.Errorf("%w: identifier too long", store.ErrInvalidIdentifier)
	}
	for _, r := range payload {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: identifier contains invalid characters", store.ErrInvalidIdentifier)
		}
	}
	return payload, nil
}
