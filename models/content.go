package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const AdminSettingsKey = "admin.settings"

type ContentBlock struct {
	ID        int64           `json:"id"`
	Key       string          `json:"key"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Draft     bool            `json:"draft"`
	Version   int             `json:"version"`
	UpdatedBy string          `json:"updatedBy"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ContentBlockRequest struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Draft     bool            `json:"draft"`
	Version   *int            `json:"version"`
	UpdatedBy string          `json:"updatedBy"`
}

// AdminSettings is the data payload of the admin.settings content block.
type AdminSettings struct {
	TelegramChatIDs ChatIDs `json:"telegramChatIds"`
	AdminUser       string  `json:"adminUser,omitempty"`
	AdminPassHash   string  `json:"adminPassHash,omitempty"`
}

type AdminSettingsRequest struct {
	TelegramChatIDs ChatIDs `json:"telegramChatIds"`
	AdminUser       string  `json:"adminUser"`
	NewPassword     string  `json:"newPassword"`
}

// ChatIDs accepts both numeric and string chat identifiers.
type ChatIDs []string

func (c *ChatIDs) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ids := make(ChatIDs, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case string:
			if s := strings.TrimSpace(id); s != "" {
				ids = append(ids, s)
			}
		case float64:
			ids = append(ids, fmt.Sprintf("%.0f", id))
		}
	}
	*c = ids
	return nil
}
