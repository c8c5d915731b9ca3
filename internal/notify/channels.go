package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ntfy posts the message as plain text to a topic URL.
type Ntfy struct {
	TopicURL string
	Client   *http.Client
}

func (n *Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) Send(ctx context.Context, a Alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.TopicURL, strings.NewReader(a.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", a.Title)
	req.Header.Set("Priority", "urgent")
	req.Header.Set("Tags", "bell,vibration")
	return doPost(client(n.Client), req)
}

// WeCom posts a text message to a chat-bot webhook.
type WeCom struct {
	WebhookURL string
	Client     *http.Client
}

func (w *WeCom) Name() string { return "wecom" }

type wecomText struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (w *WeCom) Send(ctx context.Context, a Alert) error {
	payload := wecomText{MsgType: "text"}
	payload.Text.Content = a.Title + "\n" + a.Message
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client(w.Client).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if json.Unmarshal(data, &result) == nil && result.ErrCode != 0 {
		return fmt.Errorf("webhook error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

func doPost(c *http.Client, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Channels builds the channels for the configured endpoints. Empty URLs are
// left out.
func Channels(ntfyURL, wecomURL string) []Channel {
	var chans []Channel
	if ntfyURL != "" {
		chans = append(chans, &Ntfy{TopicURL: ntfyURL})
	}
	if wecomURL != "" {
		chans = append(chans, &WeCom{WebhookURL: wecomURL})
	}
	return chans
}
