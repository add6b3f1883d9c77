// Package faucet requests test funds for a ledger account.
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
)

const (
	ErrInvalidConfig = errors.ErrorCode("faucet_invalid_config")
	ErrMissingToken  = errors.ErrorCode("faucet_missing_token")
	ErrRequestFailed = errors.ErrorCode("faucet_request_failed")

	defaultURL      = "https://api.chainstack.com/v1/faucet/sepolia"
	defaultTokenEnv = "SOLARLEDGER_FAUCET_TOKEN"
	defaultTimeout  = 30 * time.Second
)

type Config struct {
	URL     string
	Address string
	// TokenEnv names the environment variable holding the API token.
	TokenEnv string
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:      defaultURL,
		TokenEnv: defaultTokenEnv,
		Timeout:  defaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.URL == "":
		return errFactory.WithMessage(ErrInvalidConfig, "faucet URL is required")
	case c.TokenEnv == "":
		return errFactory.WithMessage(ErrInvalidConfig, "faucet token variable is required")
	case c.Timeout <= 0:
		return errFactory.WithMessage(ErrInvalidConfig, "faucet timeout must be positive")
	}
	return nil
}

// Grant is the faucet's answer to a successful request.
type Grant struct {
	Address string `json:"-"`
	URL     string `json:"url"`
	Amount  string `json:"amount,omitempty"`
}

type Client struct {
	cfg    Config
	client *http.Client
	log    logger.Logger
}

func New(cfg Config, client *http.Client, log logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{cfg: cfg, client: client, log: log}, nil
}

// Request asks the faucet to fund address, or the configured address when
// address is empty.
func (c *Client) Request(ctx context.Context, address string) (Grant, error) {
	errFactory := errors.New()

	if address == "" {
		address = c.cfg.Address
	}
	if address == "" {
		return Grant{}, errFactory.WithMessage(ErrInvalidConfig, "no account address to fund")
	}

	token := os.Getenv(c.cfg.TokenEnv)
	if token == "" {
		return Grant{}, errFactory.WithData(ErrMissingToken, c.cfg.TokenEnv)
	}

	body, err := json.Marshal(struct {
		Address string `json:"address"`
	}{Address: address})
	if err != nil {
		return Grant{}, errFactory.Wrap(ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Grant{}, errFactory.Wrap(ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := errors.FromContext(ctx); ctxErr != nil {
			return Grant{}, ctxErr
		}
		return Grant{}, errFactory.Wrap(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Grant{}, errFactory.Wrap(ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Grant{}, errFactory.WithData(ErrRequestFailed, struct {
			Status int
			Body   string
		}{
			Status: resp.StatusCode,
			Body:   string(bytes.TrimSpace(data)),
		})
	}

	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return Grant{}, errFactory.Wrap(ErrRequestFailed, err)
	}
	grant.Address = address

	c.log.Info().
		Str("address", address).
		Str("tx_url", grant.URL).
		Msg("Faucet grant requested")

	return grant, nil
}
