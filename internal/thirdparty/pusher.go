package thirdparty

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 签名相关请求头
const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

// Pusher 带 HMAC 签名的 JSON 推送；5xx 与网络错误按退避重试
type Pusher struct {
	Client  *http.Client
	APIKey  string
	Secret  string
	Retries int
	Backoff []time.Duration
	now     func() time.Time
}

func NewPusher(client *http.Client, apiKey, secret string) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Pusher{
		Client:  client,
		APIKey:  apiKey,
		Secret:  secret,
		Retries: 3,
		Backoff: []time.Duration{200 * time.Millisecond, time.Second, 3 * time.Second},
		now:     time.Now,
	}
}

// SignHMAC HMAC-SHA256（hex）
func SignHMAC(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonical method\npath\ntimestamp\nnonce\nsha256(body)
func Canonical(method, path string, ts int64, nonce string, body []byte) string {
	h := sha256.Sum256(body)
	return fmt.Sprintf("%s\n%s\n%d\n%s\n%s", strings.ToUpper(method), path, ts, nonce, hex.EncodeToString(h[:]))
}

// Verify 接收端校验签名
func Verify(secret string, r *http.Request, body []byte) bool {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	want := SignHMAC(secret, Canonical(r.Method, r.URL.Path, ts, r.Header.Get(HeaderNonce), body))
	return hmac.Equal([]byte(want), []byte(r.Header.Get(HeaderSignature)))
}

// SendJSON 发送并返回状态码；4xx 不重试
func (p *Pusher) SendJSON(ctx context.Context, endpoint string, payload any) (int, error) {
	if p == nil || p.Client == nil {
		return 0, errors.New("nil pusher")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	var code int
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		// 每次重试重新签名，时间戳跟随实际发送时间
		ts := p.now().Unix()
		nonce := uuid.NewString()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderAPIKey, p.APIKey)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderNonce, nonce)
		req.Header.Set(HeaderSignature, SignHMAC(p.Secret, Canonical(http.MethodPost, u.Path, ts, nonce, body)))

		resp, err := p.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			code = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			switch {
			case code >= 200 && code < 300:
				return code, nil
			case code < 500:
				return code, fmt.Errorf("webhook rejected: http %d", code)
			}
			lastErr = fmt.Errorf("http %d", code)
		}
		if attempt == p.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return code, ctx.Err()
		case <-time.After(p.Backoff[min(attempt, len(p.Backoff)-1)]):
		}
	}
	return code, lastErr
}
