package pawchat

import (
	"context"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// TokenSource reads the bearer token used for the bus handshake and REST
// calls. The client never writes it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileTokenStore reads the token from the [auth] section of a TOML file,
// re-reading it on every call so a fresh login is picked up.
type FileTokenStore struct {
	Path string
}

func (f FileTokenStore) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	var doc struct {
		Auth struct {
			Token string `toml:"token"`
		} `toml:"auth"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	if doc.Auth.Token == "" {
		return "", ErrNoToken
	}
	return doc.Auth.Token, nil
}
