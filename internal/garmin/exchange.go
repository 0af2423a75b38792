package garmin

import (
	"context"
	"fmt"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultConsumerURL publishes the OAuth1 consumer key pair of the Garmin
// Connect mobile app.
const DefaultConsumerURL = "https://thegarth.s3.amazonaws.com/oauth_consumer.json"

const (
	exchangePath     = "/oauth-service/oauth/exchange/user/2.0"
	mobileUserAgent  = "com.garmin.android.apps.connectmobile"
	formContentType  = "application/x-www-form-urlencoded"
	defaultExTimeout = 30 * time.Second
)

// Consumer is the OAuth1 consumer the exchange request is signed with.
type Consumer struct {
	Key    string `json:"consumer_key"`
	Secret string `json:"consumer_secret"`
}

// Exchanger trades an OAuth1 token for a new OAuth2 token.
type Exchanger struct {
	baseURL     string
	consumerURL string
	timeout     time.Duration
	logger      *zap.Logger
	consumer    Consumer
}

// NewExchanger creates an Exchanger against baseURL. When consumer has no
// key it is downloaded from consumerURL on first use.
func NewExchanger(baseURL, consumerURL string, consumer Consumer, timeout time.Duration, logger *zap.Logger) *Exchanger {
	if consumerURL == "" {
		consumerURL = DefaultConsumerURL
	}
	if timeout == 0 {
		timeout = defaultExTimeout
	}
	return &Exchanger{
		baseURL:     baseURL,
		consumerURL: consumerURL,
		consumer:    consumer,
		timeout:     timeout,
		logger:      logger,
	}
}

// Exchange posts an OAuth1-signed request to the exchange endpoint. Any
// failure is ErrAuthentication.
func (e *Exchanger) Exchange(ctx context.Context, tok *OAuth1Token, now time.Time) (*OAuth2Token, error) {
	consumer, err := e.loadConsumer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	signed := oauth1.NewConfig(consumer.Key, consumer.Secret).
		Client(ctx, oauth1.NewToken(tok.OAuthToken, tok.OAuthTokenSecret))
	req := resty.NewWithClient(signed).
		SetTimeout(e.timeout).
		R().
		SetContext(ctx).
		SetHeader("User-Agent", mobileUserAgent).
		SetHeader("Content-Type", formContentType)
	if tok.MFAToken != "" {
		req.SetFormData(map[string]string{"mfa_token": tok.MFAToken})
	}

	resp, err := req.Post(e.baseURL + exchangePath)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrAuthentication, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: token exchange returned %d: %s",
			ErrAuthentication, resp.StatusCode(), truncate(resp.String(), 200))
	}

	var out OAuth2Token
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: decoding exchanged token: %v", ErrAuthentication, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchanged token has no access_token", ErrAuthentication)
	}
	out.ExpiresAt = now.Unix() + out.ExpiresIn
	if out.RefreshTokenExpiresIn > 0 {
		out.RefreshTokenExpiresAt = now.Unix() + out.RefreshTokenExpiresIn
	}
	return &out, nil
}

func (e *Exchanger) loadConsumer(ctx context.Context) (Consumer, error) {
	if e.consumer.Key != "" {
		return e.consumer, nil
	}

	resp, err := resty.New().
		SetTimeout(e.timeout).
		R().
		SetContext(ctx).
		Get(e.consumerURL)
	if err != nil {
		return Consumer{}, fmt.Errorf("fetching OAuth consumer: %w", err)
	}
	if resp.IsError() {
		return Consumer{}, fmt.Errorf("fetching OAuth consumer returned %d", resp.StatusCode())
	}

	var c Consumer
	if err := json.Unmarshal(resp.Body(), &c); err != nil {
		return Consumer{}, fmt.Errorf("decoding OAuth consumer: %w", err)
	}
	if c.Key == "" || c.Secret == "" {
		return Consumer{}, fmt.Errorf("OAuth consumer from %s is incomplete", e.consumerURL)
	}
	e.logger.Debug("Loaded OAuth consumer", zap.String("url", e.consumerURL))
	e.consumer = c
	return c, nil
}
