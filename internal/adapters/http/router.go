package http

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter builds the HTTP surface consumed by the call-control
// service and the translator.
func SetupRouter(mode string, h *Handlers) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	ms := router.Group("/mediaserver")
	{
		ms.POST("/start_call", h.StartCall)
		ms.POST("/answer_call", h.AnswerCall)
		ms.POST("/create_room", h.CreateRoom)
		ms.POST("/clear_participant", h.ClearParticipant)
		ms.POST("/close_room", h.CloseRoom)
		ms.POST("/close_all_rooms", h.CloseAllRooms)
		ms.POST("/share_screen", h.ShareScreen)
		ms.POST("/clone_participant", h.CloneParticipant)
		ms.POST("/stop_screensharing", h.StopScreenSharing)

		ms.POST("/create_producer_transport", h.CreateProducerTransport)
		ms.POST("/create_consumer_transport", h.CreateConsumerTransport)
		ms.POST("/connect_producer_transport", h.ConnectProducerTransport)
		ms.POST("/connect_consumer_transport", h.ConnectConsumerTransport)
		ms.POST("/replace_producer_transport", h.ReplaceProducerTransport)
		ms.POST("/produce", h.Produce)
		ms.POST("/consume", h.Consume)
		ms.POST("/unpause_consumer", h.UnpauseConsumer)
		ms.POST("/consume_data", h.ConsumeData)
		ms.POST("/participant_connected", h.SetConnected)
		ms.POST("/update_media_state", h.UpdateMediaState)
		ms.POST("/translate", h.Translate)

		ms.GET("/get_instance_details", h.GetInstanceDetails)
		ms.GET("/get_room_stats", h.GetRoomStats)
		ms.GET("/get_room_health", h.GetRoomHealth)
	}

	tr := router.Group("/translation")
	{
		tr.POST("/stopped", h.TranslationStopped)
	}

	return router
}
