// Package feed fetches stock and currency snapshots from the market data API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stockalert/internal/config"
	apperrors "stockalert/internal/errors"
	"stockalert/internal/models"
)

// Source returns the full current entity set of one kind.
type Source interface {
	Kind() models.Kind
	Fetch(ctx context.Context) ([]models.Entity, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	K  models.Kind
	Fn func(ctx context.Context) ([]models.Entity, error)
}

// Kind returns the kind the function fetches.
func (s SourceFunc) Kind() models.Kind { return s.K }

// Fetch calls the function.
func (s SourceFunc) Fetch(ctx context.Context) ([]models.Entity, error) { return s.Fn(ctx) }

// Value fields are pointers so a null or missing price is told apart from 0.
type stockDTO struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name"`
	CurrentPrice  *float64 `json:"currentPrice"`
	ChangePercent float64  `json:"changePercent"`
}

type currencyDTO struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	ExchangeRate  *float64 `json:"exchangeRate"`
	ChangePercent float64  `json:"changePercent"`
}

// missingValue fails the whole snapshot. Keeping the previous observations
// is safer than storing a price that was never reported.
func missingValue(kind models.Kind, field, id string) error {
	return apperrors.NewFetchError(string(kind), "decode",
		fmt.Errorf("%s: %s is null or missing", id, field))
}

// maxBodySize bounds a response body.
const maxBodySize = 8 << 20

// Client talks to the market data API.
type Client struct {
	baseURL      string
	stocksPath   string
	currencyPath string
	userAgent    string
	httpClient   *http.Client
}

// NewClient creates a Client from the [feed] section. Per-request deadlines
// come from the caller's context.
func NewClient(cfg config.FeedConfig) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		stocksPath:   withDefault(cfg.StocksPath, "/stocks"),
		currencyPath: withDefault(cfg.CurrencyPath, "/currency"),
		userAgent:    withDefault(cfg.UserAgent, "StockAlert/1.0"),
		httpClient:   &http.Client{},
	}
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// FetchStocks returns every stock the API currently lists.
func (c *Client) FetchStocks(ctx context.Context) ([]models.Entity, error) {
	var dtos []stockDTO
	if err := c.getJSON(ctx, models.KindStock, c.stocksPath, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.Entity, 0, len(dtos))
	for _, d := range dtos {
		if d.Symbol == "" {
			continue
		}
		if d.CurrentPrice == nil {
			return nil, missingValue(models.KindStock, "currentPrice", d.Symbol)
		}
		out = append(out, models.Entity{
			ID:            d.Symbol,
			Name:          d.Name,
			Value:         *d.CurrentPrice,
			ChangePercent: d.ChangePercent,
		})
	}
	return out, nil
}

// FetchCurrencies returns every currency the API currently lists.
func (c *Client) FetchCurrencies(ctx context.Context) ([]models.Entity, error) {
	var dtos []currencyDTO
	if err := c.getJSON(ctx, models.KindCurrency, c.currencyPath, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.Entity, 0, len(dtos))
	for _, d := range dtos {
		if d.Code == "" {
			continue
		}
		if d.ExchangeRate == nil {
			return nil, missingValue(models.KindCurrency, "exchangeRate", d.Code)
		}
		out = append(out, models.Entity{
			ID:            d.Code,
			Name:          d.Name,
			Value:         *d.ExchangeRate,
			ChangePercent: d.ChangePercent,
		})
	}
	return out, nil
}

// Sources returns one Source per requested kind.
func (c *Client) Sources(kinds ...models.Kind) []Source {
	var out []Source
	for _, k := range kinds {
		switch k {
		case models.KindStock:
			out = append(out, SourceFunc{K: k, Fn: c.FetchStocks})
		case models.KindCurrency:
			out = append(out, SourceFunc{K: k, Fn: c.FetchCurrencies})
		}
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, kind models.Kind, path string, target interface{}) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.NewFetchError(string(kind), "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return apperrors.NewFetchError(string(kind), "GET "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return apperrors.NewFetchError(string(kind), "GET "+path,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(target); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return apperrors.NewFetchError(string(kind), "decode", err)
	}

	return nil
}

// Timed wraps src so every Fetch runs under timeout. Expiry surfaces as a
// FetchError wrapping ErrTimeout.
func Timed(src Source, timeout time.Duration) Source {
	return SourceFunc{
		K: src.Kind(),
		Fn: func(ctx context.Context) ([]models.Entity, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				entities []models.Entity
				err      error
			}
			done := make(chan result, 1)
			go func() {
				e, err := src.Fetch(ctx)
				done <- result{e, err}
			}()

			select {
			case r := <-done:
				if r.err != nil && ctx.Err() == context.DeadlineExceeded && !apperrors.Is(r.err, apperrors.ErrTimeout) {
					return nil, apperrors.NewFetchError(string(src.Kind()), "fetch",
						fmt.Errorf("%w: %v", apperrors.ErrTimeout, r.err))
				}
				return r.entities, r.err
			case <-ctx.Done():
				err := ctx.Err()
				if err == context.DeadlineExceeded {
					err = apperrors.ErrTimeout
				}
				return nil, apperrors.NewFetchError(string(src.Kind()), "fetch", err)
			}
		},
	}
}
