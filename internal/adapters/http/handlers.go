package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lumicall/mediabridge/internal/core"
	"github.com/lumicall/mediabridge/internal/service"
)

type Handlers struct {
	calls        *service.CallService
	transports   *service.TransportService
	translations *service.TranslationService
}

func NewHandlers(calls *service.CallService, transports *service.TransportService, translations *service.TranslationService) *Handlers {
	return &Handlers{
		calls:        calls,
		transports:   transports,
		translations: translations,
	}
}

func writeError(c *gin.Context, err error) {
	var (
		notFound     *core.NotFoundError
		conflict     *core.ConflictError
		precondition *core.PreconditionError
		invalid      *core.InvalidInputError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &precondition), errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Str("module", "http").Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func bind[T any](c *gin.Context) (*T, bool) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return &req, true
}

func (h *Handlers) StartCall(c *gin.Context) {
	req, ok := bind[startCallRequest](c)
	if !ok {
		return
	}
	details, err := h.calls.StartCall(req.CallID, req.UserID, req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handlers) AnswerCall(c *gin.Context) {
	req, ok := bind[answerCallRequest](c)
	if !ok {
		return
	}
	details, err := h.calls.AnswerCall(req.RoomID, req.UserID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	req, ok := bind[createRoomRequest](c)
	if !ok {
		return
	}
	details, err := h.calls.CreateRoom(req.RoomID, req.CallID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handlers) ClearParticipant(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	if err := h.calls.ClearParticipant(req.RoomID, req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (h *Handlers) CloseRoom(c *gin.Context) {
	req, ok := bind[roomRequest](c)
	if !ok {
		return
	}
	if err := h.calls.CloseRoom(req.RoomID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *Handlers) CloseAllRooms(c *gin.Context) {
	h.calls.CloseAllRooms()
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *Handlers) ShareScreen(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	cloneID, err := h.calls.ShareScreen(req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participantId": cloneID})
}

func (h *Handlers) CloneParticipant(c *gin.Context) {
	req, ok := bind[cloneParticipantRequest](c)
	if !ok {
		return
	}
	cloneID, err := h.calls.CloneParticipant(req.RoomID, req.OldParticipantID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participantId": cloneID})
}

func (h *Handlers) StopScreenSharing(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	if err := h.calls.StopScreenSharing(req.RoomID, req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (h *Handlers) GetInstanceDetails(c *gin.Context) {
	c.JSON(http.StatusOK, h.calls.InstanceDetails())
}

func (h *Handlers) GetRoomStats(c *gin.Context) {
	roomID := c.Query("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}
	stats, err := h.calls.RoomStats(roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) GetRoomHealth(c *gin.Context) {
	roomID := c.Query("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}
	health, err := h.calls.RoomHealth(roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handlers) CreateProducerTransport(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	info, err := h.transports.CreateProducerTransport(req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) CreateConsumerTransport(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	info, err := h.transports.CreateConsumerTransport(req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) ConnectProducerTransport(c *gin.Context) {
	req, ok := bind[connectTransportRequest](c)
	if !ok {
		return
	}
	if err := h.transports.ConnectProducerTransport(req.RoomID, req.ParticipantID, req.DtlsParameters); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (h *Handlers) ConnectConsumerTransport(c *gin.Context) {
	req, ok := bind[connectTransportRequest](c)
	if !ok {
		return
	}
	if err := h.transports.ConnectConsumerTransport(req.RoomID, req.ParticipantID, req.DtlsParameters); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (h *Handlers) ReplaceProducerTransport(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	info, err := h.transports.ReplaceProducerTransport(req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) Produce(c *gin.Context) {
	req, ok := bind[produceRequest](c)
	if !ok {
		return
	}
	event, err := h.transports.Produce(req.RoomID, req.ParticipantID, req.Kind, req.RtpParameters)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handlers) Consume(c *gin.Context) {
	req, ok := bind[consumeRequest](c)
	if !ok {
		return
	}
	info, err := h.transports.Consume(req.RoomID, req.ParticipantID, req.ProducerID, req.RtpCapabilities)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) UnpauseConsumer(c *gin.Context) {
	req, ok := bind[unpauseConsumerRequest](c)
	if !ok {
		return
	}
	if err := h.transports.UnpauseConsumer(req.RoomID, req.ParticipantID, req.ConsumerID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

func (h *Handlers) ConsumeData(c *gin.Context) {
	req, ok := bind[participantRequest](c)
	if !ok {
		return
	}
	info, err := h.transports.ConsumeData(req.RoomID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) SetConnected(c *gin.Context) {
	req, ok := bind[connectedRequest](c)
	if !ok {
		return
	}
	if err := h.transports.SetConnected(req.RoomID, req.ParticipantID, *req.Connected); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *Handlers) UpdateMediaState(c *gin.Context) {
	req, ok := bind[mediaStateRequest](c)
	if !ok {
		return
	}
	if err := h.transports.UpdateMediaState(req.RoomID, req.ParticipantID, *req.AudioEnabled, *req.VideoEnabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *Handlers) Translate(c *gin.Context) {
	req, ok := bind[translateRequest](c)
	if !ok {
		return
	}
	info, err := h.translations.Translate(req.RoomID, req.ParticipantID, req.ListenerID, req.ProducerID, req.TargetLang)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) TranslationStopped(c *gin.Context) {
	req, ok := bind[translationStoppedRequest](c)
	if !ok {
		return
	}
	if err := h.translations.HandleTranslationStopped(&service.TranslationStop{
		RoomID:             req.RoomID,
		ConsumerID:         req.ConsumerID,
		Speaker:            req.Speaker,
		Listener:           req.Listener,
		OriginalProducerID: req.OriginalProducerID,
		TargetLang:         req.TargetLang,
	}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}
