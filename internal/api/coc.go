package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"clash-intelligence/internal/config"

	"github.com/valyala/fasthttp"
)

const baseURL = "https://api.clashofclans.com/v1"

// ErrNotFound is returned for upstream 404s (unknown clan or player tag).
var ErrNotFound = errors.New("resource not found")

// ErrRateLimited is returned for upstream 429s. Retrying belongs to the
// orchestration layer, not here.
var ErrRateLimited = errors.New("rate limited by upstream API")

type CoCClient struct {
	apiKey string
	client *fasthttp.Client
}

func NewCoCClient(cfg *config.Config) *CoCClient {
	return &CoCClient{
		apiKey: cfg.CoCAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *CoCClient) GetClan(ctx context.Context, clanTag string) (*ClanResponse, error) {
	u := fmt.Sprintf("%s/clans/%s", baseURL, url.PathEscape(clanTag))
	return doRequest[ClanResponse](ctx, c, u)
}

func (c *CoCClient) GetPlayer(ctx context.Context, playerTag string) (*PlayerResponse, error) {
	u := fmt.Sprintf("%s/players/%s", baseURL, url.PathEscape(playerTag))
	return doRequest[PlayerResponse](ctx, c, u)
}

func doRequest[T any](ctx context.Context, client *CoCClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+client.apiKey)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, ErrNotFound
	case fasthttp.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ClanResponse struct {
	Tag        string       `json:"tag"`
	Name       string       `json:"name"`
	ClanLevel  int          `json:"clanLevel"`
	Members    int          `json:"members"`
	MemberList []ClanMember `json:"memberList"`
}

// ClanMember is the abbreviated member shape on the clan endpoint. Optional
// numerics are pointers: absent fields stay nil instead of reading as zero.
type ClanMember struct {
	Tag               string `json:"tag"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	TownHallLevel     *int   `json:"townHallLevel"`
	ExpLevel          *int   `json:"expLevel"`
	Trophies          *int   `json:"trophies"`
	Donations         *int   `json:"donations"`
	DonationsReceived *int   `json:"donationsReceived"`
}

type PlayerResponse struct {
	Tag                      string        `json:"tag"`
	Name                     string        `json:"name"`
	Role                     string        `json:"role"`
	TownHallLevel            *int          `json:"townHallLevel"`
	ExpLevel                 *int          `json:"expLevel"`
	Trophies                 *int          `json:"trophies"`
	WarStars                 *int          `json:"warStars"`
	Donations                *int          `json:"donations"`
	DonationsReceived        *int          `json:"donationsReceived"`
	ClanCapitalContributions *int          `json:"clanCapitalContributions"`
	Heroes                   []HeroLevel   `json:"heroes"`
	Achievements             []Achievement `json:"achievements"`
}

type HeroLevel struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	MaxLevel int    `json:"maxLevel"`
	Village  string `json:"village"` // "home" or "builderBase"
}

type Achievement struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}
