package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"livebid/auction"
)

// JSONResponse 回傳統一格式的成功回應
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError 回傳統一格式的錯誤回應
func JSONError(c *gin.Context, status int, err error, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"error":   err.Error(),
	})
}

// rejectionBody 出價被拒絕時回給出價者的內容
type rejectionBody struct {
	Reason            auction.RejectReason `json:"reason"`
	Message           string               `json:"message"`
	MinimumAcceptable string               `json:"minimum_acceptable"`
}

// mapError 將領域錯誤轉為 HTTP 狀態碼與訊息
func mapError(err error) (int, string) {
	var reachLimit *ReachLimitError
	switch {
	case errors.As(err, &reachLimit):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, auction.ErrInvalidConfiguration):
		return http.StatusBadRequest, "invalid auction configuration"
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, auction.ErrForbidden):
		return http.StatusForbidden, "not allowed"
	case errors.Is(err, auction.ErrInvalidTransition):
		return http.StatusConflict, "invalid state transition"
	case errors.Is(err, auction.ErrLockTimeout):
		return http.StatusServiceUnavailable, "auction is busy, please retry"
	case errors.Is(err, auction.ErrSettlementUnavailable):
		return http.StatusServiceUnavailable, "settlement service unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError 依錯誤種類回應；出價拒絕回傳 422 與最低可接受金額
func (impl *ServerImpl) writeError(c *gin.Context, err error) {
	if rejection, ok := auction.AsRejection(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":  http.StatusUnprocessableEntity,
			"message": "bid rejected",
			"error": rejectionBody{
				Reason:            rejection.Reason,
				Message:           rejection.Message,
				MinimumAcceptable: rejection.MinimumAcceptable.String(),
			},
		})
		return
	}
	status, message := mapError(err)
	if status == http.StatusInternalServerError {
		impl.logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
		// 內部錯誤不回傳細節
		err = errors.New(message)
	}
	JSONError(c, status, err, message)
}
