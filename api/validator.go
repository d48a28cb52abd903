package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"

	"livebid/api/openapi"
)

// requestValidator 依 openapi.yaml 檢查路徑參數與請求 body
// 驗證身分由 authenticate 負責，這裡略過 security 檢查
func (impl *ServerImpl) requestValidator(swagger *openapi3.T) (openapi.MiddlewareFunc, error) {
	const op = "ServerImpl.requestValidator"
	// 不依賴 servers 設定，只比對路徑
	swagger.Servers = nil
	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to build openapi router, err=%w", op, err)
	}
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
				JSONError(c, http.StatusNotFound, err, "route not found")
				c.Abort()
				return
			}
			impl.logger.Error("Fail to find openapi route", slog.Any("error", err))
			JSONError(c, http.StatusInternalServerError, errors.New("internal server error"), "internal server error")
			c.Abort()
			return
		}

		err = openapi3filter.ValidateRequest(c.Request.Context(), &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    options,
		})
		if err != nil {
			var reachLimit *ReachLimitError
			if errors.As(err, &reachLimit) {
				JSONError(c, http.StatusRequestEntityTooLarge, reachLimit, "request body too large")
				c.Abort()
				return
			}
			impl.logger.Debug("request validation failed",
				slog.String("method", c.Request.Method),
				slog.String("path", c.FullPath()),
				slog.Any("error", err))
			JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid request payload: %w", err), "invalid request payload")
			c.Abort()
		}
	}, nil
}
