// Package settings resolves runtime-editable configuration stored in the
// admin.settings content block, falling back to static process config.
package settings

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Credentials is the admin login pair in effect. When PassHash is set it
// takes precedence over the plain Password from the environment.
type Credentials struct {
	User     string
	Password string
	PassHash string
}

// Check compares both fields in constant time.
func (c Credentials) Check(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) == 1
	var passOK bool
	if c.PassHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(c.PassHash), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password)) == 1
	}
	return userOK && passOK
}

func ResolveCredentials(defaultUser, defaultPass string, s *models.AdminSettings) Credentials {
	c := Credentials{User: defaultUser, Password: defaultPass}
	if s == nil {
		return c
	}
	if u := strings.TrimSpace(s.AdminUser); u != "" {
		c.User = u
	}
	if s.AdminPassHash != "" {
		c.PassHash = s.AdminPassHash
	}
	return c
}

// ResolveRecipients merges the comma separated static chat list with the
// chat ids stored in settings, keeping first-seen order.
func ResolveRecipients(static string, s *models.AdminSettings) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range strings.Split(static, ",") {
		add(id)
	}
	if s != nil {
		for _, id := range s.TelegramChatIDs {
			add(id)
		}
	}
	return out
}

// HashPassword is used when an operator sets a new admin password.
func HashPassword(pass string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

type ContentReader interface {
	Get(ctx context.Context, key string) (*models.ContentBlock, error)
}

type Loader struct {
	store  ContentReader
	logger *zap.Logger
}

func NewLoader(store ContentReader, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Load returns the stored settings, or nil when none are saved or the block
// cannot be read. Callers always have a static fallback.
func (l *Loader) Load(ctx context.Context) *models.AdminSettings {
	s, err := l.Fetch(ctx)
	if err != nil {
		l.logger.Warn("Failed to load admin settings", zap.Error(err))
		return nil
	}
	return s
}

// Fetch is Load for writers: store failures are returned. A missing or
// unparseable block is (nil, nil).
func (l *Loader) Fetch(ctx context.Context) (*models.AdminSettings, error) {
	b, err := l.store.Get(ctx, models.AdminSettingsKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read admin settings: %w", err)
	}
	if len(b.Data) == 0 {
		return nil, nil
	}
	var s models.AdminSettings
	if err := json.Unmarshal(b.Data, &s); err != nil {
		l.logger.Warn("Admin settings block is not valid JSON", zap.Error(err))
		return nil, nil
	}
	return &s, nil
}
