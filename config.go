package pawchat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes the endpoints and identity a Session works with.
type Config struct {
	BaseURL      string `toml:"base_url" validate:"required,url"`
	WebSocketURL string `toml:"ws_url" validate:"required,url"`
	UserID       int64  `toml:"user_id" validate:"gt=0"`
	PageSize     int    `toml:"page_size" validate:"omitempty,min=1,max=100"`

	ReconnectDelay       time.Duration `toml:"reconnect_delay" validate:"gte=0"`
	MaxReconnectDelay    time.Duration `toml:"max_reconnect_delay" validate:"gte=0"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts" validate:"gte=0"`
	HeartBeat            time.Duration `toml:"heart_beat"`
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}

func (c Config) reconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   c.ReconnectDelay,
		MaxDelay:    c.MaxReconnectDelay,
		MaxAttempts: c.MaxReconnectAttempts,
	}
}
