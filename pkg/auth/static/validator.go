// Package static maps fixed bearer tokens to users. It backs dev setups and
// service accounts that cannot mint JWTs.
package static

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/formq/pkg/auth"
)

type user struct {
	Token   string `json:"token"`
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
}

// validatorConfig accepts any of:
//
//	"token-value"
//	{"token":"...","subject":"...","email":"..."}
//	{"users":[{"token":"...","subject":"..."}, ...]}
type validatorConfig struct {
	user
	Users []user `json:"users,omitempty"`
}

type validator struct {
	byToken map[string]user
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	users := cfg.Users
	if strings.TrimSpace(cfg.Token) != "" {
		users = append(users, cfg.user)
	}
	if len(users) == 0 {
		return nil, errors.New("static auth: token is required")
	}

	v := &validator{byToken: make(map[string]user, len(users))}
	for _, u := range users {
		u.Token = strings.TrimSpace(u.Token)
		if u.Token == "" {
			return nil, errors.New("static auth: token is required")
		}
		if _, dup := v.byToken[u.Token]; dup {
			return nil, errors.New("static auth: duplicate token")
		}
		u.Subject = strings.TrimSpace(u.Subject)
		if u.Subject == "" {
			u.Subject = "static"
		}
		v.byToken[u.Token] = u
	}
	return v, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	u, ok := v.byToken[strings.TrimSpace(token)]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{
		Subject: u.Subject,
		Email:   u.Email,
		Issuer:  "static",
		Raw:     map[string]any{},
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
