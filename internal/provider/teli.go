package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"contactbot/internal/domain"
)

const (
	DefaultTeliSMSURL = "https://api.teleapi.net"
	DefaultTeliAPIURL = "https://apiv1.teleapi.net"
)

// TeliConfig configures a TeliClient.
type TeliConfig struct {
	Token  string
	SMSURL string // base URL of the SMS API
	APIURL string // base URL of the number (DID) API
	Client *http.Client
	Logger *slog.Logger
}

// TeliClient talks to teleapi for SMS delivery and number provisioning.
type TeliClient struct {
	token  string
	smsURL string
	apiURL string
	client *http.Client
	logger *slog.Logger
}

var (
	_ domain.SmsGateway     = (*TeliClient)(nil)
	_ domain.NumberProvider = (*TeliClient)(nil)
)

// NewTeliClient creates a TeliClient.
func NewTeliClient(cfg TeliConfig) *TeliClient {
	if cfg.SMSURL == "" {
		cfg.SMSURL = DefaultTeliSMSURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTeliAPIURL
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &TeliClient{
		token:  cfg.Token,
		smsURL: strings.TrimRight(cfg.SMSURL, "/"),
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		client: cfg.Client,
		logger: cfg.Logger,
	}
}

type teliResponse struct {
	Code   int             `json:"code"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  json.RawMessage `json:"error"`
}

func (c *TeliClient) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	return doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			endpoint+"?token="+url.QueryEscape(c.token), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, c.logger)
}

func (c *TeliClient) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	query.Set("token", c.token)
	return doWithRetry(ctx, c.client, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	}, c.logger)
}

// SendSMS sends text from source to destination. Only the status and
// segment count of the gateway response are returned.
func (c *TeliClient) SendSMS(ctx context.Context, source, destination, text string) (domain.SmsResult, error) {
	body, err := c.postForm(ctx, c.smsURL+"/sms/send", url.Values{
		"source":      {source},
		"destination": {destination},
		"message":     {text},
	})
	if err != nil {
		return domain.SmsResult{}, fmt.Errorf("send sms: %w", err)
	}
	var res domain.SmsResult
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.SmsResult{}, fmt.Errorf("send sms: %w", &GatewayError{StatusCode: http.StatusOK, Body: string(body)})
	}
	if res.Status != "" && res.Status != "success" {
		return res, fmt.Errorf("send sms: %w", &GatewayError{StatusCode: http.StatusOK, Body: string(body)})
	}
	c.logger.Info("sms sent", "source", source, "destination", destination, "status", res.Status)
	return res, nil
}

// SearchNumbers lists purchasable numbers in an area code.
func (c *TeliClient) SearchNumbers(ctx context.Context, areaCode string, limit int) ([]string, error) {
	body, err := c.get(ctx, c.apiURL+"/dids/list", url.Values{
		"npa":   {areaCode},
		"limit": {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, fmt.Errorf("search numbers: %w", err)
	}
	resp, err := decodeTeli(body)
	if err != nil {
		return nil, fmt.Errorf("search numbers: %w", err)
	}
	var listings []struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(resp.Data, &listings); err != nil {
		return nil, fmt.Errorf("search numbers: decode listing: %w", err)
	}
	numbers := make([]string, 0, len(listings))
	for _, l := range listings {
		numbers = append(numbers, l.Number)
	}
	return numbers, nil
}

// BuyNumber orders number.
func (c *TeliClient) BuyNumber(ctx context.Context, number string) error {
	body, err := c.postForm(ctx, c.apiURL+"/dids/order", url.Values{"number": {number}})
	if err != nil {
		return fmt.Errorf("buy %s: %w", number, err)
	}
	if _, err := decodeTeli(body); err != nil {
		return fmt.Errorf("buy %s: %w", number, err)
	}
	c.logger.Info("number bought", "number", number)
	return nil
}

// SetSMSURL points inbound SMS for number at webhookURL.
func (c *TeliClient) SetSMSURL(ctx context.Context, number, webhookURL string) error {
	body, err := c.postForm(ctx, c.apiURL+"/dids/sms_post", url.Values{
		"did": {number},
		"url": {webhookURL},
	})
	if err != nil {
		return fmt.Errorf("set sms url for %s: %w", number, err)
	}
	if _, err := decodeTeli(body); err != nil {
		return fmt.Errorf("set sms url for %s: %w", number, err)
	}
	return nil
}

// decodeTeli parses a DID API envelope; a body reporting an error becomes a
// *GatewayError carrying the raw body.
func decodeTeli(body []byte) (teliResponse, error) {
	var resp teliResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, &GatewayError{StatusCode: http.StatusOK, Body: string(body)}
	}
	if resp.Error != nil || (resp.Status != "" && resp.Status != "success") {
		return resp, &GatewayError{StatusCode: http.StatusOK, Body: string(body)}
	}
	return resp, nil
}
