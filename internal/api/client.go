package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"

	"noadb/agent/internal/domain"
)

type iceConfigRequest struct {
	DeviceID  string `json:"deviceId"`
	RequestID string `json:"requestId"`
}

type iceConfigResponse struct {
	Result int    `json:"result"`
	Msg    string `json:"msg"`
	Data   struct {
		ICEServers []domain.ICEServer `json:"iceServers"`
	} `json:"data"`
}

// Client fetches STUN/TURN server lists from an ICE config endpoint.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient creates an API client for url. httpClient may be nil.
func NewClient(url, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, token: token, http: httpClient}
}

// FetchICEServers asks the endpoint for the ICE servers this device
// should use.
func (c *Client) FetchICEServers(ctx context.Context, deviceID string) ([]domain.ICEServer, error) {
	var resp iceConfigResponse

	rb := requests.
		URL(c.url).
		Client(c.http).
		BodyJSON(iceConfigRequest{DeviceID: deviceID, RequestID: uuid.NewString()}).
		ToJSON(&resp)
	if c.token != "" {
		rb = rb.Bearer(c.token)
	}
	if err := rb.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetch ice config: %w", err)
	}

	if resp.Result != 0 {
		return nil, fmt.Errorf("ice config error (result=%d): %s", resp.Result, resp.Msg)
	}
	if len(resp.Data.ICEServers) == 0 {
		return nil, fmt.Errorf("ice config returned no servers")
	}
	return resp.Data.ICEServers, nil
}
