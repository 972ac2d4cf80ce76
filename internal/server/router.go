package server

import (
	"plate-auction/internal/auth"
	bidding "plate-auction/internal/biddingService"
	handler "plate-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService *bidding.BiddingService, resolver auth.Resolver) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	bids := router.Group("/bids", auth.Middleware(resolver))
	{
		bids.GET("", biddingHandler.ListMyBidsHandler)
		bids.POST("", biddingHandler.PlaceBidHandler)
		bids.GET("/:bid_id", biddingHandler.GetBidHandler)
		bids.PUT("/:bid_id", biddingHandler.ReviseBidHandler)
		bids.DELETE("/:bid_id", biddingHandler.WithdrawBidHandler)
	}

	lots := router.Group("/lots")
	{
		lots.GET("/:lot_id/bids", biddingHandler.GetBidsByLotHandler)
		lots.GET("/:lot_id/highest", biddingHandler.GetHighestBidHandler)
	}

	return router
}
