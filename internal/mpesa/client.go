// Package mpesa implements the mobile-payment gateway collaborator: OAuth
// credential caching, STK push submission, response normalization, and
// asynchronous callback parsing.
package mpesa

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

// tokenSafetyMargin is subtracted from the declared credential lifetime so
// no request is ever attempted on a stale token.
const tokenSafetyMargin = 5 * time.Minute

// defaultTokenLifetime applies when the gateway omits expires_in.
const defaultTokenLifetime = 3599 * time.Second

// ErrCredentials indicates the gateway authorization call failed. The
// request that triggered it is abandoned; the next call retries from scratch.
var ErrCredentials = errors.New("gateway authorization failed")

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL        string `default:"https://sandbox.safaricom.co.ke" usage:"Gateway base URL"`
	ConsumerKey    string `usage:"OAuth consumer key"`
	ConsumerSecret string `usage:"OAuth consumer secret"`
	Shortcode      string `usage:"Business shortcode"`
	Passkey        string `usage:"STK push passkey"`
	CallbackURL    string `usage:"Public URL the gateway posts payment results to" flag:"callback-url"`
	DefaultPhone   string `default:"254708374149" usage:"Fallback payer phone number" flag:"default-phone"`
	Simulate       bool   `default:"false" usage:"Synthesize completed payments without a live gateway"`
}

// Client submits STK push requests and caches the OAuth access credential.
type Client struct {
	cfg   Config
	http  *http.Client
	store payment.Store
	now   func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ payment.Gateway = (*Client)(nil)

// NewClient creates a gateway client persisting attempts to the given store.
func NewClient(cfg Config, store payment.Store) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		store: store,
		now:   time.Now,
	}
}

// Timestamp renders t in the gateway's request timestamp format.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// Password derives the request signature for a (shortcode, passkey,
// timestamp) triple. The derivation is deterministic: the same triple always
// yields the same base64 encoding, as required for gateway-side verification.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// NormalizePhone formats a payer phone number to the 2547XXXXXXXX form the
// gateway expects. Handles leading 0, +254, and bare 7XXXXXXXX inputs.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(p, "0"):
		return "254" + p[1:]
	case strings.HasPrefix(p, "+254"):
		return p[1:]
	case strings.HasPrefix(p, "7") && len(p) == 9:
		return "254" + p
	default:
		return p
	}
}

// accessToken returns a valid cached credential, fetching a fresh one when
// the cache is empty or within the safety margin of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", errors.Wrap(err, "build auth request")
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrCredentials, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrCredentials, "auth status %d", resp.StatusCode)
	}

	token, lifetime, err := parseAuthResponse(body)
	if err != nil {
		return "", errors.Wrap(ErrCredentials, err.Error())
	}

	c.token = token
	c.tokenExpiry = now.Add(lifetime - tokenSafetyMargin)
	zctx.From(ctx).Info("Refreshed gateway credential",
		zap.Duration("lifetime", lifetime),
		zap.Time("expiry", c.tokenExpiry))
	return c.token, nil
}

// parseAuthResponse extracts the access token and declared lifetime. The
// gateway serializes expires_in inconsistently as a string or a number;
// both forms are accepted.
func parseAuthResponse(body []byte) (string, time.Duration, error) {
	var (
		token    string
		lifetime = defaultTokenLifetime
	)
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "access_token":
			v, err := d.Str()
			token = v
			return err
		case "expires_in":
			switch d.Next() {
			case jx.String:
				v, err := d.Str()
				if err != nil {
					return err
				}
				if secs, convErr := strconv.Atoi(v); convErr == nil {
					lifetime = time.Duration(secs) * time.Second
				}
				return nil
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return err
				}
				if secs, convErr := n.Int64(); convErr == nil {
					lifetime = time.Duration(secs) * time.Second
				}
				return nil
			default:
				return d.Skip()
			}
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "decode auth response")
	}
	if token == "" {
		return "", 0, errors.New("access token missing from auth response")
	}
	return token, lifetime, nil
}

// Initiate submits an STK push request for the order. Transport failures
// and gateway rejections are classified into the returned attempt rather
// than surfaced as errors; only authorization failures abort the call.
func (c *Client) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Attempt, error) {
	lg := zctx.From(ctx)

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	phone := req.Phone
	if phone == "" {
		phone = c.cfg.DefaultPhone
	}
	phone = NormalizePhone(phone)

	now := c.now()
	timestamp := Timestamp(now)
	body := c.buildSTKRequest(req, phone, timestamp)

	attempt := &payment.Attempt{
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Phone:     phone,
		CreatedAt: now,
		UpdatedAt: now,
	}

	resp := c.submit(ctx, token, body)
	attempt.CheckoutRequestID = resp.CheckoutRequestID
	attempt.MerchantRequestID = resp.MerchantRequestID
	attempt.Status, attempt.Retryable = payment.Classify(resp)
	if attempt.Status == payment.StatusFailed {
		attempt.ErrorMessage = resp.Description
		if resp.TransportFailed {
			attempt.ErrorMessage = "gateway unreachable"
		}
	}

	// Attempts without a correlation id (rejected before acceptance) are
	// keyed by order id so retries still supersede them.
	if attempt.CheckoutRequestID == "" {
		attempt.CheckoutRequestID = "rejected-" + req.OrderID
	}
	if err := c.store.Save(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "save payment attempt")
	}

	lg.Info("Payment initiated",
		zap.String("order_id", req.OrderID),
		zap.String("checkout_request_id", attempt.CheckoutRequestID),
		zap.String("status", string(attempt.Status)))
	return attempt, nil
}

// buildSTKRequest serializes the payment submission body.
func (c *Client) buildSTKRequest(req payment.InitiateRequest, phone, timestamp string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("BusinessShortCode", func(e *jx.Encoder) { e.Str(c.cfg.Shortcode) })
		e.Field("Password", func(e *jx.Encoder) { e.Str(Password(c.cfg.Shortcode, c.cfg.Passkey, timestamp)) })
		e.Field("Timestamp", func(e *jx.Encoder) { e.Str(timestamp) })
		e.Field("TransactionType", func(e *jx.Encoder) { e.Str("CustomerPayBillOnline") })
		e.Field("Amount", func(e *jx.Encoder) { e.Str(req.Amount.Round(0).String()) })
		e.Field("PartyA", func(e *jx.Encoder) { e.Str(phone) })
		e.Field("PartyB", func(e *jx.Encoder) { e.Str(c.cfg.Shortcode) })
		e.Field("PhoneNumber", func(e *jx.Encoder) { e.Str(phone) })
		e.Field("CallBackURL", func(e *jx.Encoder) { e.Str(c.cfg.CallbackURL) })
		e.Field("AccountReference", func(e *jx.Encoder) { e.Str(req.OrderID) })
		e.Field("TransactionDesc", func(e *jx.Encoder) { e.Str(req.Description) })
	})
	return e.Bytes()
}

// submit posts the request and normalizes whatever comes back into the
// canonical response form.
func (c *Client) submit(ctx context.Context, token string, body []byte) payment.Response {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", strings.NewReader(string(body)))
	if err != nil {
		return payment.Response{TransportFailed: true}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		zctx.From(ctx).Warn("Gateway request failed", zap.Error(err))
		return payment.Response{TransportFailed: true}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return payment.Response{TransportFailed: true}
	}

	return NormalizeResponse(respBody)
}

// NormalizeResponse is the single adapter mapping every observed gateway
// response shape into the canonical form. First match wins: top-level
// success code, success code nested in a data payload, explicit error code,
// and finally malformed body as a transport failure.
func NormalizeResponse(body []byte) payment.Response {
	var (
		resp       payment.Response
		sawAnyKey  bool
		walkFields func(d *jx.Decoder, key string) error
	)
	walkFields = func(d *jx.Decoder, key string) error {
		sawAnyKey = true
		switch key {
		case "ResponseCode":
			v, err := decodeFlexibleString(d)
			if err != nil {
				return err
			}
			if v == "0" {
				resp.Accepted = true
			} else if v != "" && !resp.Accepted {
				resp.ErrorCode = v
			}
			return nil
		case "CheckoutRequestID":
			v, err := d.Str()
			resp.CheckoutRequestID = v
			return err
		case "MerchantRequestID":
			v, err := d.Str()
			resp.MerchantRequestID = v
			return err
		case "ResponseDescription", "CustomerMessage":
			v, err := d.Str()
			if resp.Description == "" {
				resp.Description = v
			}
			return err
		case "errorCode":
			v, err := decodeFlexibleString(d)
			if err != nil {
				return err
			}
			if !resp.Accepted {
				resp.ErrorCode = v
			}
			return nil
		case "errorMessage":
			v, err := d.Str()
			resp.Description = v
			return err
		case "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(walkFields)
		default:
			return d.Skip()
		}
	}

	if err := jx.DecodeBytes(body).Obj(walkFields); err != nil || !sawAnyKey {
		return payment.Response{TransportFailed: true}
	}
	return resp
}

// decodeFlexibleString reads a value the gateway serializes as either a
// JSON string or a bare number.
func decodeFlexibleString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(n)), nil
	default:
		return "", d.Skip()
	}
}
