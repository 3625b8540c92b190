package bkfunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmretail/settlement-backend/pkg/config"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
	"github.com/mmretail/settlement-backend/pkg/logger"
)

const (
	protocolVersion = "1.0"
	signType        = "RSA2"
	charset         = "utf-8"

	networkRetryBackoff = 500 * time.Millisecond
)

var errLoggerRequired = errors.New("bkfunds logger is required")

// Client exposes the settlement platform primitives with centralized signing,
// logging, retry, and error mapping. It is stateless and safe for concurrent
// use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	nodeID     string
	signer     *Signer
	retries    int
	logger     *logger.Logger
}

// NewClient initializes the platform wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PlatformConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "platform app id is required")
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "platform node id is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "invalid platform base url")
	}

	signer, err := NewSigner(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:      cfg.AppID,
		nodeID:     cfg.NodeID,
		signer:     signer,
		retries:    cfg.RetryCount,
		logger:     logg,
	}

	logg.Info(ctx, "bkfunds client initialized")
	return c, nil
}

// NodeID reports the configured organization identifier.
func (c *Client) NodeID() string {
	if c == nil {
		return ""
	}
	return c.nodeID
}

// execute signs and POSTs one platform call, retrying network failures with a
// constant backoff. Any structured response, including rejections, is returned
// as an Envelope; only transport and decode failures become errors.
func (c *Client) execute(ctx context.Context, method string, biz map[string]string) (*Envelope, error) {
	bizContent, err := json.Marshal(biz)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding biz content")
	}

	params := map[string]string{
		"app_id":      c.appID,
		"method":      method,
		"charset":     charset,
		"sign_type":   signType,
		"version":     protocolVersion,
		"timestamp":   time.Now().Format("2006-01-02 15:04:05"),
		"biz_content": string(bizContent),
	}
	signature, err := c.signer.Sign(params)
	if err != nil {
		return nil, err
	}
	params["sign"] = signature

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	body := form.Encode()

	var envelope *Envelope
	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(networkRetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		env, callErr := c.post(ctx, method, body)
		if callErr != nil {
			if pkgerrors.IsRetryable(callErr) {
				c.log(ctx, "retry", method, map[string]any{"error": callErr.Error()})
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		envelope = env
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (c *Client) post(ctx context.Context, method, body string) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building platform request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset="+charset)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, fmt.Sprintf("calling %s", method))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNetwork, err, fmt.Sprintf("reading %s response", method))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, pkgerrors.New(pkgerrors.CodeNetwork, fmt.Sprintf("%s returned HTTP %d", method, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.CodeProtocol, fmt.Sprintf("%s returned HTTP %d", method, resp.StatusCode))
	}

	return parseEnvelope(method, raw)
}

// parseEnvelope unwraps the <method>_response root key. A body that decodes
// but carries no recognizable envelope is a protocol error, not a rejection.
func parseEnvelope(method string, raw []byte) (*Envelope, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, fmt.Sprintf("decoding %s response", method))
	}

	rootKey := responseKey(method)
	inner, ok := outer[rootKey]
	if !ok {
		// some deployments return the envelope unwrapped
		inner = raw
	}

	var env Envelope
	if err := json.Unmarshal(inner, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, fmt.Sprintf("decoding %s envelope", method))
	}
	if env.Code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeProtocol, fmt.Sprintf("%s response missing envelope code", method))
	}
	return &env, nil
}

func responseKey(method string) string {
	return strings.ReplaceAll(method, ".", "_") + "_response"
}

// rejectionError wraps a well-formed platform refusal for call sites where a
// rejection is terminal rather than a normal result.
func rejectionError(method string, env *Envelope) error {
	msg := env.Msg
	if env.SubMsg != "" {
		msg = env.SubMsg
	}
	return pkgerrors.New(pkgerrors.CodePlatformRejected, fmt.Sprintf("%s rejected: %s", method, msg)).
		WithDetails(map[string]string{
			"code":     env.Code,
			"sub_code": env.SubCode,
			"sub_msg":  env.SubMsg,
		})
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("bkfunds %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("bkfunds %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"key", "sign", "secret", "card", "bank"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
