package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dashboardHandler "call-server/internal/dashboard/handler"
	"call-server/internal/ratelimit"
	telephonyHandler "call-server/internal/telephony/handler"
)

type API struct {
	router           *gin.RouterGroup
	telephonyHandler telephonyHandler.Handler
	dashboardHandler dashboardHandler.Handler
	rateLimiter      *ratelimit.Service
}

func New(router *gin.RouterGroup, telephony telephonyHandler.Handler,
	dashboard dashboardHandler.Handler, rateLimiter *ratelimit.Service) API {
	return API{
		router:           router,
		telephonyHandler: telephony,
		dashboardHandler: dashboard,
		rateLimiter:      rateLimiter,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := a.router.Group("/api")
	{
		phoneGroup := apiGroup.Group("/phone")
		phoneGroup.POST("/answer", a.telephonyHandler.HandleAnswerCall)
		phoneGroup.GET("/media-stream", a.telephonyHandler.HandleMediaStream)
	}
	dashboardGroup := apiGroup.Group("/dashboard", a.rateLimiter.Middleware())
	{
		dashboardGroup.GET("/calls", a.dashboardHandler.HandleListCalls)
		dashboardGroup.GET("/calls/:id", a.dashboardHandler.HandleGetCall)
		dashboardGroup.GET("/calls/:id/events", a.dashboardHandler.HandleCallEvents)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
