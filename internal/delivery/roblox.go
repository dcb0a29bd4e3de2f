package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"robux-shop/internal/config"
	"robux-shop/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Public Roblox API roots.
const (
	DefaultUsersURL     = "https://users.roblox.com"
	DefaultGamesURL     = "https://games.roblox.com"
	DefaultInventoryURL = "https://inventory.roblox.com"

	gamePassURLFormat = "https://www.roblox.com/game-pass/%d"
	requestsPerSecond = 5
	maxCatalogPages   = 10
)

type usernamesRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernamesResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

type gamePassesResponse struct {
	NextPageCursor *string `json:"nextPageCursor"`
	Data           []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Price       *int   `json:"price"`
	} `json:"data"`
}

type inventoryResponse struct {
	Data []json.RawMessage `json:"data"`
}

// roblox implements Client using the public Roblox web APIs. Deliverables are
// game passes of one universe; the buyer receives currency by buying the pass.
type roblox struct {
	universeID   int64
	cookie       string
	usersURL     string
	gamesURL     string
	inventoryURL string
	client       *http.Client
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

// NewRobloxClient creates a delivery client for cfg.UniverseID.
func NewRobloxClient(cfg config.RobloxConfig, logger zerolog.Logger) Client {
	return &roblox{
		universeID:   cfg.UniverseID,
		cookie:       cfg.Cookie,
		usersURL:     orDefault(cfg.UsersURL, DefaultUsersURL),
		gamesURL:     orDefault(cfg.GamesURL, DefaultGamesURL),
		inventoryURL: orDefault(cfg.InventoryURL, DefaultInventoryURL),
		client:       &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		logger:       logger.With().Str("component", "delivery-client").Logger(),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}

// LookupAccount resolves username, excluding banned users.
func (c *roblox) LookupAccount(ctx context.Context, username string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.ErrInvalidTargetAccount
	}

	var resp usernamesResponse
	body := usernamesRequest{Usernames: []string{username}, ExcludeBannedUsers: true}
	if err := c.do(ctx, http.MethodPost, c.usersURL+"/v1/usernames/users", body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		c.logger.Debug().Str("username", username).Msg("account not found")
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidTargetAccount, username)
	}

	user := resp.Data[0]
	return &model.Account{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
	}, nil
}

// GetDeliverableEntry walks the universe's game passes and returns the first
// one priced at spec.Price that spec.AccountID does not already own.
func (c *roblox) GetDeliverableEntry(ctx context.Context, spec model.ProductSpec) (*model.Deliverable, error) {
	cursor := ""
	for page := 0; page < maxCatalogPages; page++ {
		query := url.Values{}
		query.Set("limit", "100")
		query.Set("sortOrder", "Asc")
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp gamePassesResponse
		endpoint := fmt.Sprintf("%s/v1/games/%d/game-passes?%s", c.gamesURL, c.universeID, query.Encode())
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return nil, err
		}

		for _, gp := range resp.Data {
			if gp.Price == nil || *gp.Price != spec.Price {
				continue
			}
			name := gp.DisplayName
			if name == "" {
				name = gp.Name
			}
			entry := &model.Deliverable{
				ID:    gp.ID,
				Name:  name,
				URL:   fmt.Sprintf(gamePassURLFormat, gp.ID),
				Price: *gp.Price,
			}

			if spec.AccountID != 0 {
				owned, err := c.HasBuyerAcquired(ctx, *entry, spec.AccountID)
				if err != nil {
					return nil, err
				}
				if owned {
					c.logger.Debug().
						Int64("game_pass_id", gp.ID).
						Int64("account_id", spec.AccountID).
						Msg("account already owns game pass, skipping")
					continue
				}
			}
			return entry, nil
		}

		if resp.NextPageCursor == nil || *resp.NextPageCursor == "" {
			break
		}
		cursor = *resp.NextPageCursor
	}

	c.logger.Info().
		Int("quantity", spec.Quantity).
		Int("price", spec.Price).
		Msg("no game pass matches the order")
	return nil, fmt.Errorf("%w: no game pass priced %d", model.ErrDeliverableNotFound, spec.Price)
}

// HasBuyerAcquired checks the account's inventory for the game pass.
func (c *roblox) HasBuyerAcquired(ctx context.Context, deliverable model.Deliverable, accountID int64) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/users/%d/items/GamePass/%d", c.inventoryURL, accountID, deliverable.ID)

	var resp inventoryResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return false, err
	}
	return len(resp.Data) > 0, nil
}

// do sends one API call. Any failure is model.ErrDeliveryUnavailable.
func (c *roblox) do(ctx context.Context, method, endpoint string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDeliveryUnavailable, err)
	}

	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", endpoint).Msg("delivery catalog request failed")
		return fmt.Errorf("%w: %v", model.ErrDeliveryUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", model.ErrDeliveryUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("url", endpoint).
			Msg("delivery catalog returned an error")
		return fmt.Errorf("%w: status %d: %s", model.ErrDeliveryUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", model.ErrDeliveryUnavailable, err)
	}
	return nil
}
