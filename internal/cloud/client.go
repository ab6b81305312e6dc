package cloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jellydator/ttlcache/v3"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/config"
)

const (
	defaultTimeout      = 10 * time.Second
	tokenCacheMargin    = 60 * time.Second
	deviceCacheTTL      = 2 * time.Minute
	datapointsCacheTTL  = 10 * time.Minute
	maxRetryElapsedTime = 30 * time.Second
)

var regionEndpoints = map[string]string{
	"eu":      "https://openapi.tuyaeu.com",
	"us":      "https://openapi.tuyaus.com",
	"cn":      "https://openapi.tuyacn.com",
	"in":      "https://openapi.tuyain.com",
	"eu-west": "https://openapi-weaz.tuyaeu.com",
}

// Logger is the minimal logging interface the cloud client uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RESTClient implements Client against Tuya's OpenAPI (IoT Core), signing
// every request per Tuya's HMAC-SHA256 scheme and caching both the access
// token and short-lived device reads.
type RESTClient struct {
	cfg        config.CloudConfig
	httpClient *http.Client
	logger     Logger

	baseURL string

	tokenCache   *ttlcache.Cache[string, string]
	deviceCache  *ttlcache.Cache[string, *DeviceInfo]
	dpCache      *ttlcache.Cache[string, []Datapoint]
}

// NewRESTClient builds a cloud client for the given region. It does not
// make any network calls until a method is invoked.
func NewRESTClient(cfg config.CloudConfig, logger Logger) (*RESTClient, error) {
	base, ok := regionEndpoints[cfg.Region]
	if !ok {
		return nil, fmt.Errorf("cloud: unknown region %q", cfg.Region)
	}
	if logger == nil {
		logger = noopLogger{}
	}

	tokenCache := ttlcache.New[string, string]()
	deviceCache := ttlcache.New(ttlcache.WithTTL[string, *DeviceInfo](deviceCacheTTL))
	dpCache := ttlcache.New(ttlcache.WithTTL[string, []Datapoint](datapointsCacheTTL))

	go tokenCache.Start()
	go deviceCache.Start()
	go dpCache.Start()

	return &RESTClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		baseURL:     base,
		tokenCache:  tokenCache,
		deviceCache: deviceCache,
		dpCache:     dpCache,
	}, nil
}

// Close stops the background cache eviction goroutines.
func (c *RESTClient) Close() {
	c.tokenCache.Stop()
	c.deviceCache.Stop()
	c.dpCache.Stop()
}

func (c *RESTClient) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxRetryElapsedTime
	return backoff.WithContext(b, ctx)
}

// accessToken returns a cached token or fetches a fresh one via the
// no-token-required /v1.0/token endpoint.
func (c *RESTClient) accessToken(ctx context.Context) (string, error) {
	if item := c.tokenCache.Get("token"); item != nil {
		return item.Value(), nil
	}

	var token string
	var expireSeconds int

	op := func() error {
		resp, err := c.doSigned(ctx, http.MethodGet, "/v1.0/token?grant_type=1", nil, "")
		if err != nil {
			return err
		}
		var parsed struct {
			Result struct {
				AccessToken string `json:"access_token"`
				ExpireTime  int    `json:"expire_time"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnexpectedResponse, err))
		}
		token = parsed.Result.AccessToken
		expireSeconds = parsed.Result.ExpireTime
		if token == "" {
			return backoff.Permanent(ErrUnauthorized)
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return "", err
	}

	ttl := time.Duration(expireSeconds)*time.Second - tokenCacheMargin
	if ttl <= 0 {
		ttl = tokenCacheMargin
	}
	c.tokenCache.Set("token", token, ttl)
	return token, nil
}

// GetDevice fetches a device's cloud record, using a short-lived cache so
// a burst of ERR_KEY_OR_VER recoveries doesn't hammer the cloud.
func (c *RESTClient) GetDevice(ctx context.Context, devID string) (*DeviceInfo, error) {
	if item := c.deviceCache.Get(devID); item != nil {
		return item.Value(), nil
	}

	var info *DeviceInfo
	op := func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		resp, err := c.doSigned(ctx, http.MethodGet, "/v1.0/devices/"+devID, nil, token)
		if err != nil {
			return err
		}
		var parsed struct {
			Result struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				LocalKey    string `json:"local_key"`
				ProductID   string `json:"product_id"`
				Category    string `json:"category"`
				IP          string `json:"ip"`
				Online      bool   `json:"online"`
				ProtocolVer string `json:"protocol_version"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnexpectedResponse, err))
		}
		if parsed.Result.ID == "" {
			return backoff.Permanent(ErrDeviceNotFound)
		}
		info = &DeviceInfo{
			DevID:     parsed.Result.ID,
			Name:      parsed.Result.Name,
			LocalKey:  parsed.Result.LocalKey,
			ProductID: parsed.Result.ProductID,
			Category:  parsed.Result.Category,
			IP:        parsed.Result.IP,
			Online:    parsed.Result.Online,
			Version:   parsed.Result.ProtocolVer,
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}

	c.deviceCache.Set(devID, info, ttlcache.DefaultTTL)
	return info, nil
}

// GetDatapoints fetches a device's datapoint schema (the "specifications"
// endpoint), which maps DP IDs to codes and value ranges/enums.
func (c *RESTClient) GetDatapoints(ctx context.Context, devID string) ([]Datapoint, error) {
	if item := c.dpCache.Get(devID); item != nil {
		return item.Value(), nil
	}

	var dps []Datapoint
	op := func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		resp, err := c.doSigned(ctx, http.MethodGet, "/v1.0/devices/"+devID+"/specifications", nil, token)
		if err != nil {
			return err
		}
		var parsed struct {
			Result struct {
				Functions []struct {
					Code   string         `json:"code"`
					DPID   json.Number    `json:"dp_id"`
					Type   string         `json:"type"`
					Values map[string]any `json:"values"`
				} `json:"functions"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnexpectedResponse, err))
		}
		dps = make([]Datapoint, 0, len(parsed.Result.Functions))
		for _, f := range parsed.Result.Functions {
			dps = append(dps, Datapoint{
				Code:   f.Code,
				DPID:   f.DPID.String(),
				Type:   f.Type,
				Values: f.Values,
			})
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}

	c.dpCache.Set(devID, dps, ttlcache.DefaultTTL)
	return dps, nil
}

// SendCommands issues datapoint writes through the cloud control channel.
func (c *RESTClient) SendCommands(ctx context.Context, devID string, commands []Command) error {
	type wireCommand struct {
		Code  string `json:"code"`
		Value any    `json:"value"`
	}
	wire := make([]wireCommand, 0, len(commands))
	for _, cmd := range commands {
		wire = append(wire, wireCommand{Code: cmd.Code, Value: cmd.Value})
	}
	body, err := json.Marshal(map[string]any{"commands": wire})
	if err != nil {
		return fmt.Errorf("encoding commands: %w", err)
	}

	return backoff.Retry(func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		_, err = c.doSigned(ctx, http.MethodPost, "/v1.0/devices/"+devID+"/commands", body, token)
		return err
	}, c.retryPolicy(ctx))
}

// ListDevices lists every device visible to the configured account via the
// user-devices endpoint.
func (c *RESTClient) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	op := func() error {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		resp, err := c.doSigned(ctx, http.MethodGet, "/v1.0/iot-01/associated-users/devices?size=100", nil, token)
		if err != nil {
			return err
		}
		var parsed struct {
			Result struct {
				Devices []struct {
					ID          string `json:"id"`
					Name        string `json:"name"`
					LocalKey    string `json:"local_key"`
					ProductID   string `json:"product_id"`
					Category    string `json:"category"`
					IP          string `json:"ip"`
					Online      bool   `json:"online"`
					ProtocolVer string `json:"protocol_version"`
				} `json:"devices"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnexpectedResponse, err))
		}
		devices = make([]DeviceInfo, 0, len(parsed.Result.Devices))
		for _, d := range parsed.Result.Devices {
			devices = append(devices, DeviceInfo{
				DevID:     d.ID,
				Name:      d.Name,
				LocalKey:  d.LocalKey,
				ProductID: d.ProductID,
				Category:  d.Category,
				IP:        d.IP,
				Online:    d.Online,
				Version:   d.ProtocolVer,
			})
		}
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return devices, nil
}

// doSigned performs one signed HTTP request and classifies the response,
// returning the raw JSON body on success.
func (c *RESTClient) doSigned(ctx context.Context, method, path string, body []byte, accessToken string) ([]byte, error) {
	now := time.Now().UnixMilli()
	ts := strconv.FormatInt(now, 10)
	nonce := newNonce()

	signHeaders := ""
	strToSign := stringToSign(method, path, body, signHeaders)
	signature := sign(c.cfg.APISecret, c.cfg.APIKey, accessToken, ts, nonce, strToSign)

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("client_id", c.cfg.APIKey)
	req.Header.Set("sign", signature)
	req.Header.Set("t", ts)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("nonce", nonce)
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, backoff.Permanent(ErrUnauthorized)
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: cloud status %d", ErrUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: cloud status %d: %s", ErrUnexpectedResponse, resp.StatusCode, respBody)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	if !envelope.Success {
		c.logger.Warn("cloud request failed", "path", path, "code", envelope.Code, "msg", envelope.Msg)
		if envelope.Code == 1010 || envelope.Code == 1011 {
			return nil, backoff.Permanent(ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: code %d: %s", ErrUnexpectedResponse, envelope.Code, envelope.Msg)
	}

	return respBody, nil
}

func newNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
