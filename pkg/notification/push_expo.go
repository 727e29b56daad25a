package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExpoConfig Expo 推送服务配置
type ExpoConfig struct {
	Endpoint string // 默认 https://exp.host/--/api/v2/push/send
	Timeout  time.Duration
}

// ExpoPush 基于 Expo push API 的通道实现
type ExpoPush struct {
	cfg ExpoConfig
	cli *http.Client
}

func NewExpoPush(cfg ExpoConfig) *ExpoPush {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://exp.host/--/api/v2/push/send"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ExpoPush{cfg: cfg, cli: &http.Client{Timeout: cfg.Timeout}}
}

type expoRequestItem struct {
	To    string                 `json:"to"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Sound string                 `json:"sound,omitempty"`
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"` // "ok" / "error"
		Message string `json:"message"`
		Details struct {
			Error string `json:"error"` // "DeviceNotRegistered" 等
		} `json:"details"`
	} `json:"data"`
}

// SendBatch 推送一批 token，调用方保证 len(tokens) 不超过通道上限
func (e *ExpoPush) SendBatch(ctx context.Context, tokens []string, msg PushMessage) ([]PushTicket, error) {
	items := make([]expoRequestItem, 0, len(tokens))
	for _, token := range tokens {
		items = append(items, expoRequestItem{
			To:    token,
			Title: msg.Title,
			Body:  msg.Body,
			Data:  msg.Data,
			Sound: "default",
		})
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}

	var body expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	// Expo 按请求顺序返回回执
	tickets := make([]PushTicket, 0, len(tokens))
	for i, token := range tokens {
		ticket := PushTicket{Token: token, OK: true}
		if i < len(body.Data) {
			r := body.Data[i]
			if r.Status != "ok" {
				ticket.OK = false
				ticket.Err = r.Message
				ticket.DeadToken = r.Details.Error == "DeviceNotRegistered"
			}
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}
