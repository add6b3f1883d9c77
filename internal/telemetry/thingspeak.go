package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
)

const maxResponseBytes = 1 << 20

// ThingSpeak reads the most recent entry of a ThingSpeak channel field.
type ThingSpeak struct {
	cfg    Config
	client *http.Client
	log    logger.Logger
}

type feedResponse struct {
	Feeds []json.RawMessage `json:"feeds"`
}

func NewThingSpeak(cfg Config, client *http.Client, log logger.Logger) (*ThingSpeak, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &ThingSpeak{
		cfg:    cfg,
		client: client,
		log:    log,
	}, nil
}

// Latest fetches one feed entry and returns it as a Reading for field. An
// empty field name selects the configured one.
func (t *ThingSpeak) Latest(ctx context.Context, field string) (Reading, error) {
	errFactory := errors.New()

	if field == "" {
		field = t.cfg.Field
	}
	n, err := fieldNumber(field)
	if err != nil {
		return Reading{}, err
	}

	endpoint := fmt.Sprintf("%s/channels/%s/fields/%s.json",
		strings.TrimRight(t.cfg.BaseURL, "/"), url.PathEscape(t.cfg.ChannelID), n)
	query := url.Values{}
	query.Set("results", "1")
	if t.cfg.APIKey != "" {
		query.Set("api_key", t.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return Reading{}, errFactory.Wrap(ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	t.log.Debug().
		Str("channel", t.cfg.ChannelID).
		Str("field", field).
		Msg("Fetching latest telemetry")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := errors.FromContext(ctx); ctxErr != nil {
			return Reading{}, ctxErr
		}
		return Reading{}, errFactory.Wrap(ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := errors.FromContext(ctx); ctxErr != nil {
			return Reading{}, ctxErr
		}
		return Reading{}, errFactory.Wrap(ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return Reading{}, errFactory.WithData(ErrUnavailable, struct {
			Status int
			Body   string
		}{
			Status: resp.StatusCode,
			Body:   string(bytes.TrimSpace(body)),
		})
	}

	// ThingSpeak answers "-1" for channels it will not serve.
	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return Reading{}, errFactory.Wrap(ErrUnavailable, errFactory.Wrap(ErrMalformedFeed, err))
	}
	if len(feed.Feeds) == 0 {
		return Reading{}, errFactory.Wrap(ErrUnavailable, errFactory.New(ErrEmptyFeed))
	}

	raw, err := ParsePayload(feed.Feeds[0])
	if err != nil {
		return Reading{}, errFactory.Wrap(ErrUnavailable, errFactory.Wrap(ErrMalformedFeed, err))
	}

	reading, err := NewReading(field, raw)
	if err != nil {
		return Reading{}, errFactory.Wrap(ErrUnavailable, err)
	}

	return reading, nil
}
