package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"livebid/api/openapi"
	"livebid/auction"
)

type paymentResponse struct {
	AuctionID       string `json:"auction_id"`
	OrderID         string `json:"order_id,omitempty"`
	PaymentComplete bool   `json:"payment_complete"`
}

var _ openapi.ServerInterface = (*ServerImpl)(nil)

// bindJSON 解析已通過 openapi 驗證的請求 body
func (impl *ServerImpl) bindJSON(c *gin.Context, handlerName string, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		impl.logger.Warn(handlerName+": binding error", slog.Any("error", err))
		JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request payload: %w", err), "invalid request payload")
		return false
	}
	return true
}

// Create an auction
// (POST /auctions)
func (impl *ServerImpl) PostAuction(c *gin.Context) {
	var req openapi.PostAuctionJSONRequestBody
	if !impl.bindJSON(c, "PostAuction", &req) {
		return
	}
	// 處理拍賣描述
	description := impl.htmlChecker.Sanitize(strings.TrimSpace(lo.FromPtr(req.Description)))

	a, err := impl.engine.Create(c.Request.Context(), currentUser(c), auction.Config{
		DealRoomID:       req.DealRoomId,
		ListingID:        lo.FromPtr(req.ListingId),
		Description:      description,
		StartPrice:       req.StartPrice,
		MinimumIncrement: req.MinimumIncrement,
		DurationMinutes:  req.DurationMinutes,
		InviteeIDs:       req.InviteeIds,
		AutoStart:        lo.FromPtr(req.AutoStart),
	})
	if err != nil {
		impl.writeError(c, err)
		return
	}
	c.Header("Location", "/auctions/"+a.ID)
	JSONResponse(c, http.StatusCreated, a, "auction created")
}

// Get auction details
// (GET /auctions/{id})
func (impl *ServerImpl) GetAuction(c *gin.Context, id string) {
	ctx := c.Request.Context()
	a, err := impl.engine.Get(ctx, id)
	// Redis 上的紀錄過期後改讀持久化副本
	if errors.Is(err, auction.ErrNotFound) && impl.repository != nil {
		a, err = impl.repository.Find(ctx, id)
	}
	if err != nil {
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, a, "ok")
}

// Start an auction
// (POST /auctions/{id}/start)
func (impl *ServerImpl) PostAuctionStart(c *gin.Context, id string) {
	a, err := impl.engine.Start(c.Request.Context(), id, currentUser(c))
	if err != nil {
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, a, "auction started")
}

// End an auction early
// (POST /auctions/{id}/end)
func (impl *ServerImpl) PostAuctionEnd(c *gin.Context, id string) {
	a, err := impl.engine.End(c.Request.Context(), id, currentUser(c))
	if err != nil {
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, a, "auction ended")
}

// Cancel an auction
// (POST /auctions/{id}/cancel)
func (impl *ServerImpl) PostAuctionCancel(c *gin.Context, id string) {
	a, err := impl.engine.Cancel(c.Request.Context(), id, currentUser(c))
	if err != nil {
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, a, "auction cancelled")
}

// Check payment completion
// (GET /auctions/{id}/payment)
func (impl *ServerImpl) GetAuctionPayment(c *gin.Context, id string) {
	ctx := c.Request.Context()
	a, err := impl.engine.Get(ctx, id)
	if err != nil {
		impl.writeError(c, err)
		return
	}
	// 只有得標者與賣家可以查詢
	user := currentUser(c)
	if user != a.SellerID && (a.WinnerID() == "" || user != a.WinnerID()) {
		impl.writeError(c, fmt.Errorf("%w: only the winner or seller can query payment", auction.ErrForbidden))
		return
	}
	complete, err := impl.engine.IsPaymentComplete(ctx, id)
	if err != nil {
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusOK, paymentResponse{
		AuctionID:       id,
		OrderID:         a.Metadata[auction.MetaOrderID],
		PaymentComplete: complete,
	}, "ok")
}

// Place a bid
// (POST /auctions/{id}/bids)
func (impl *ServerImpl) PostAuctionBid(c *gin.Context, id string) {
	var req openapi.PostAuctionBidJSONRequestBody
	if !impl.bindJSON(c, "PostAuctionBid", &req) {
		return
	}
	user := currentUser(c)
	bid, err := impl.engine.SubmitBid(c.Request.Context(), id, user, req.Amount, impl.options.clock())
	if err != nil {
		if rejection, ok := auction.AsRejection(err); ok {
			impl.logger.Debug("bid rejected",
				slog.String("auctionID", id),
				slog.String("bidderID", user),
				slog.String("reason", string(rejection.Reason)))
		}
		impl.writeError(c, err)
		return
	}
	JSONResponse(c, http.StatusCreated, bid, "bid accepted")
}

// GetHealthz 存活檢查
// (GET /healthz)
func (impl *ServerImpl) GetHealthz(c *gin.Context) {
	if impl.redisClient != nil {
		if err := impl.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			JSONError(c, http.StatusServiceUnavailable, err, "redis unavailable")
			return
		}
	}
	JSONResponse(c, http.StatusOK, gin.H{"node": impl.config.ID}, "ok")
}
