package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"livebid/auction"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

type clientOptions struct {
	logger     *slog.Logger
	httpClient *http.Client
	token      string
}

type ClientOption func(*clientOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithHTTPClient 設置底層 http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithServiceToken 設置呼叫訂單服務時使用的 Bearer token
func WithServiceToken(token string) ClientOption {
	return func(o *clientOptions) {
		o.token = token
	}
}

// Client 外部訂單/付款服務的 HTTP 客戶端
type Client struct {
	baseURL *url.URL
	logger  *slog.Logger
	options clientOptions
}

var _ auction.ISettler = (*Client)(nil)

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	const op = "orders.NewClient"
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[%s] invalid base url %q", op, baseURL)
	}

	options := clientOptions{
		logger:     slog.Default(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		baseURL: u,
		logger:  options.logger.With(slog.String("caller", "OrdersClient")),
		options: options,
	}, nil
}

type createOrderRequest struct {
	AuctionID   string `json:"auction_id"`
	WinnerID    string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	FinalAmount string `json:"amount"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
}

type paymentResponse struct {
	Status string `json:"status"`
}

// CreateOrder 為得標者建立待付款訂單
// 以 auction_id 作為 Idempotency-Key，重試不會產生第二張訂單
func (c *Client) CreateOrder(ctx context.Context, req auction.SettlementRequest) (string, error) {
	const op = "orders.CreateOrder"
	body, err := json.Marshal(createOrderRequest{
		AuctionID:   req.AuctionID,
		WinnerID:    req.WinnerID,
		SellerID:    req.SellerID,
		FinalAmount: req.FinalAmount.String(),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to encode request, err=%w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("orders"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to build request, err=%w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.AuctionID)

	var resp createOrderResponse
	if err := c.do(httpReq, &resp, http.StatusOK, http.StatusCreated); err != nil {
		return "", fmt.Errorf("[%s] %w", op, err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("[%s] response without order_id", op)
	}
	c.logger.Info("order created", slog.String("auctionID", req.AuctionID), slog.String("orderID", resp.OrderID))
	return resp.OrderID, nil
}

// GetPaymentStatus 查詢訂單的付款狀態
func (c *Client) GetPaymentStatus(ctx context.Context, orderID string) (auction.PaymentStatus, error) {
	const op = "orders.GetPaymentStatus"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("orders", orderID, "payment"), nil)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to build request, err=%w", op, err)
	}

	var resp paymentResponse
	if err := c.do(httpReq, &resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("[%s] %w", op, err)
	}
	switch status := auction.PaymentStatus(resp.Status); status {
	case auction.PaymentPending, auction.PaymentPaid, auction.PaymentFailed:
		return status, nil
	default:
		return "", fmt.Errorf("[%s] unknown payment status %q", op, resp.Status)
	}
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.JoinPath(parts...).String()
}

func (c *Client) do(req *http.Request, out any, accepted ...int) error {
	req.Header.Set("Accept", "application/json")
	if c.options.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.token)
	}
	res, err := c.options.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Fail to call orders service, err=%w", err)
	}
	defer res.Body.Close()

	if !lo.Contains(accepted, res.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("Fail to decode response, err=%w", err)
	}
	return nil
}
