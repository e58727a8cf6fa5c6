// Package notify delivers alert messages through webhook providers.
// Provider-specific payload shapes and response envelopes are normalized
// here; callers only ever see a uniform {ok, error} result.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/pkg/types"
)

// Result is the normalized outcome of one delivery attempt.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Dispatcher posts messages to webhook providers.
type Dispatcher struct {
	client *http.Client

	// baseOverride, when set, replaces the provider host. Tests use it to
	// point every channel at a local server.
	baseOverride string
}

// NewDispatcher creates a Dispatcher with a bounded request timeout.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

var urlLike = regexp.MustCompile(`(?i)^https?://`)

// webhookURL resolves the destination endpoint. A token that already looks
// like a URL is used verbatim; otherwise it is slotted into the channel's
// provider template.
func (d *Dispatcher) webhookURL(channel types.NotifyChannel, token string) (string, error) {
	if urlLike.MatchString(token) {
		return token, nil
	}
	base := d.baseOverride
	switch channel {
	case types.ChannelWxWork:
		if base == "" {
			base = "https://qyapi.weixin.qq.com"
		}
		return fmt.Sprintf("%s/cgi-bin/webhook/send?key=%s", base, token), nil
	case types.ChannelFeishu:
		if base == "" {
			base = "https://open.feishu.cn"
		}
		return fmt.Sprintf("%s/open-apis/bot/v2/hook/%s", base, token), nil
	case types.ChannelServerChan:
		if base == "" {
			base = "https://sctapi.ftqq.com"
		}
		return fmt.Sprintf("%s/%s.send", base, token), nil
	default:
		return "", fmt.Errorf("unsupported channel: %s", channel)
	}
}

// payload builds the channel-specific JSON body.
func payload(channel types.NotifyChannel, title, body string) interface{} {
	switch channel {
	case types.ChannelWxWork:
		return map[string]interface{}{
			"msgtype": "text",
			"text":    map[string]string{"content": title + "\n\n" + body},
		}
	case types.ChannelFeishu:
		return map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": title + "\n" + body},
		}
	case types.ChannelServerChan:
		return map[string]string{
			"title": title,
			"desp":  body,
		}
	default:
		return map[string]string{}
	}
}

// providerEnvelope is the union of the providers' response shapes.
type providerEnvelope struct {
	Code    *int   `json:"code"`    // feishu, serverchan
	Msg     string `json:"msg"`     // feishu
	ErrCode *int   `json:"errcode"` // wxwork
	ErrMsg  string `json:"errmsg"`  // wxwork
	Message string `json:"message"` // serverchan
}

// normalize maps a provider envelope to (code, message). A missing code
// is treated as failure.
func normalize(channel types.NotifyChannel, env providerEnvelope) (int, string) {
	switch channel {
	case types.ChannelFeishu:
		if env.Code == nil {
			return -1, "missing code"
		}
		return *env.Code, env.Msg
	case types.ChannelWxWork:
		if env.ErrCode == nil {
			return -1, "missing errcode"
		}
		return *env.ErrCode, env.ErrMsg
	case types.ChannelServerChan:
		if env.Code == nil {
			return -1, "missing code"
		}
		return *env.Code, env.Message
	default:
		return -1, "unknown channel"
	}
}

// Send delivers one message. Channel "none" or a missing token returns a
// failed Result without any network call.
func (d *Dispatcher) Send(ctx context.Context, channel types.NotifyChannel, token, title, body string) Result {
	if channel == types.ChannelNone || token == "" {
		return Result{OK: false, Error: "channel is none or token is missing"}
	}

	url, err := d.webhookURL(channel, token)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}

	raw, err := json.Marshal(payload(channel, title, body))
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("channel", channel).Warn("Webhook request failed")
		return Result{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	var env providerEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("invalid provider response: %v", err)}
	}

	code, msg := normalize(channel, env)
	if resp.StatusCode != http.StatusOK || code != 0 {
		logrus.WithFields(logrus.Fields{
			"channel": channel,
			"status":  resp.StatusCode,
			"code":    code,
		}).Warn("Webhook reported an error")
		return Result{OK: false, Error: fmt.Sprintf("notify API error(%d): %s", code, msg)}
	}

	return Result{OK: true}
}

// SendTest delivers a canned test message so users can validate their
// channel settings before relying on alerts.
func (d *Dispatcher) SendTest(ctx context.Context, channel types.NotifyChannel, token string) Result {
	return d.Send(ctx, channel, token,
		"Dormitricity notification test",
		"This is a test message from Dormitricity. If you received it, your notification settings work.")
}
