package telephony

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultTelnyxBaseURL = "https://api.telnyx.com"

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string
	// BaseURL defaults to https://api.telnyx.com.
	BaseURL    string
	HTTPClient *http.Client
}

// TelnyxClient drives calls and numbers through the Telnyx v2 REST API.
type TelnyxClient struct {
	apiKey       string
	connectionID string
	baseURL      string
	httpClient   *http.Client
}

func NewTelnyxClient(cfg TelnyxConfig) (*TelnyxClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: telnyx api key is required", ErrNotConfigured)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultTelnyxBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &TelnyxClient{
		apiKey:       cfg.APIKey,
		connectionID: cfg.ConnectionID,
		baseURL:      baseURL,
		httpClient:   hc,
	}, nil
}

func (c *TelnyxClient) Name() string { return "telnyx" }

func (c *TelnyxClient) HealthCheck(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/v2/balance", nil, nil); err != nil {
		return upstream("telnyx", "health check", err)
	}
	return nil
}

func (c *TelnyxClient) AnswerCall(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "answer", map[string]any{})
}

func (c *TelnyxClient) Hangup(ctx context.Context, callControlID, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["client_state"] = base64.StdEncoding.EncodeToString([]byte(reason))
	}
	return c.action(ctx, callControlID, "hangup", body)
}

func (c *TelnyxClient) StartRecording(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "record_start", map[string]any{
		"format":   "mp3",
		"channels": "dual",
	})
}

func (c *TelnyxClient) StopRecording(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "record_stop", map[string]any{})
}

// StartMediaStream forks call audio to streamURL. Audio written back on the
// socket is played to the caller as PCMU.
func (c *TelnyxClient) StartMediaStream(ctx context.Context, callControlID, streamURL string) error {
	return c.action(ctx, callControlID, "streaming_start", map[string]any{
		"stream_url":                 streamURL,
		"stream_track":               "inbound_track",
		"stream_bidirectional_mode":  "rtp",
		"stream_bidirectional_codec": "PCMU",
	})
}

func (c *TelnyxClient) action(ctx context.Context, callControlID, name string, body map[string]any) error {
	if callControlID == "" {
		return fmt.Errorf("telnyx %s: %w: call_control_id is required", name, ErrUpstream)
	}
	body["command_id"] = uuid.NewString()
	path := "/v2/calls/" + url.PathEscape(callControlID) + "/actions/" + name
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return upstream("telnyx", name, err)
	}
	return nil
}

func (c *TelnyxClient) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	body := map[string]any{
		"connection_id": c.connectionID,
		"to":            req.To,
		"from":          req.From,
	}
	if req.WebhookURL != "" {
		body["webhook_url"] = req.WebhookURL
	}
	var out struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
			CallLegID     string `json:"call_leg_id"`
			CallSessionID string `json:"call_session_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/calls", body, &out); err != nil {
		return CreateCallResult{}, upstream("telnyx", "create call", err)
	}
	return CreateCallResult{
		CallControlID: out.Data.CallControlID,
		CallLegID:     out.Data.CallLegID,
		CallSessionID: out.Data.CallSessionID,
	}, nil
}

func (c *TelnyxClient) SearchNumbers(ctx context.Context, req SearchNumbersRequest) ([]AvailableNumber, error) {
	q := url.Values{}
	country := req.CountryCode
	if country == "" {
		country = "US"
	}
	q.Set("filter[country_code]", country)
	if req.AreaCode != "" {
		q.Set("filter[national_destination_code]", req.AreaCode)
	}
	if req.Contains != "" {
		q.Set("filter[phone_number][contains]", req.Contains)
	}
	if req.Limit > 0 {
		q.Set("filter[limit]", strconv.Itoa(req.Limit))
	}

	var out struct {
		Data []struct {
			PhoneNumber       string `json:"phone_number"`
			RegionInformation []struct {
				RegionType string `json:"region_type"`
				RegionName string `json:"region_name"`
			} `json:"region_information"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/available_phone_numbers?"+q.Encode(), nil, &out); err != nil {
		return nil, upstream("telnyx", "search numbers", err)
	}

	res := make([]AvailableNumber, 0, len(out.Data))
	for _, d := range out.Data {
		n := AvailableNumber{Number: d.PhoneNumber, CountryCode: country}
		for _, r := range d.RegionInformation {
			switch r.RegionType {
			case "location", "rate_center":
				if n.Locality == "" {
					n.Locality = r.RegionName
				}
			case "state":
				n.Region = r.RegionName
			case "country_code":
				n.CountryCode = r.RegionName
			}
		}
		res = append(res, n)
	}
	return res, nil
}

func (c *TelnyxClient) OrderNumber(ctx context.Context, req OrderNumberRequest) (OrderNumberResult, error) {
	body := map[string]any{
		"phone_numbers": []map[string]string{{"phone_number": req.Number}},
	}
	if c.connectionID != "" {
		body["connection_id"] = c.connectionID
	}
	var out struct {
		Data struct {
			ID           string `json:"id"`
			PhoneNumbers []struct {
				ID          string `json:"id"`
				PhoneNumber string `json:"phone_number"`
			} `json:"phone_numbers"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/number_orders", body, &out); err != nil {
		return OrderNumberResult{}, upstream("telnyx", "order number", err)
	}
	res := OrderNumberResult{Number: req.Number}
	for _, pn := range out.Data.PhoneNumbers {
		if pn.PhoneNumber == req.Number {
			res.CarrierNumberID = pn.ID
		}
	}
	return res, nil
}

func (c *TelnyxClient) ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error {
	id := req.CarrierNumberID
	if id == "" {
		found, err := c.lookupNumberID(ctx, req.Number)
		if err != nil {
			return upstream("telnyx", "release number", err)
		}
		id = found
	}
	if err := c.do(ctx, http.MethodDelete, "/v2/phone_numbers/"+url.PathEscape(id), nil, nil); err != nil {
		return upstream("telnyx", "release number", err)
	}
	return nil
}

func (c *TelnyxClient) lookupNumberID(ctx context.Context, number string) (string, error) {
	q := url.Values{}
	q.Set("filter[phone_number]", number)
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/phone_numbers?"+q.Encode(), nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", &APIError{Provider: "telnyx", Status: http.StatusNotFound, Detail: "phone number " + number + " not found"}
	}
	return out.Data[0].ID, nil
}

type telnyxErrorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (c *TelnyxClient) do(ctx context.Context, method, path string, body, result any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Provider: "telnyx", Status: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
		var eb telnyxErrorBody
		if json.Unmarshal(raw, &eb) == nil && len(eb.Errors) > 0 {
			apiErr.Code = eb.Errors[0].Code
			apiErr.Detail = eb.Errors[0].Title
			if eb.Errors[0].Detail != "" {
				apiErr.Detail = eb.Errors[0].Detail
			}
		}
		return apiErr
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
