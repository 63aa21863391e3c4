package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Canvas/internal/app/orch"
	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/dkeye/Canvas/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// History is the part of the store used by the REST endpoints.
type History interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*store.Room, error)
	LoadRoom(ctx context.Context, id domain.RoomID) (domain.Snapshot, bool, error)
	ListOperations(ctx context.Context, id domain.RoomID, kind domain.EventType, limit int) ([]domain.Operation, error)
	AppendOperation(ctx context.Context, op domain.Operation) error
}

type roomsHandler struct {
	orch    *orch.Orchestrator
	history History
}

type createRoomRequest struct {
	ID   string `json:"id" binding:"omitempty,max=64"`
	Name string `json:"name" binding:"omitempty,max=128"`
}

type operationRequest struct {
	Type string          `json:"type" binding:"required,max=64"`
	Data json.RawMessage `json:"data" binding:"required"`
}

// operationView is a drawing operation as the REST API reports it.
type operationView struct {
	RoomID domain.RoomID   `json:"roomId"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	At     time.Time       `json:"timestamp"`
}

func (h *roomsHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

func (h *roomsHandler) create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := domain.RoomID(req.ID)
	if id == "" {
		id = domain.NewRoomID()
	}
	info, created, err := h.orch.CreateRoom(id, req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusOK, info)
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", string(info.ID)).Msg("room created")
	c.JSON(http.StatusCreated, info)
}

// get serves the live room when it exists and falls back to the store.
func (h *roomsHandler) get(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if room, ok := h.orch.Rooms.Get(id); ok {
		c.JSON(http.StatusOK, room.Detail())
		return
	}
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	ctx := c.Request.Context()
	meta, err := h.history.GetRoom(ctx, id)
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("get room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	snap, found := h.orch.StoredSnapshot(ctx, id)
	if !found {
		if snap, _, err = h.history.LoadRoom(ctx, id); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("load room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, core.RoomDetail{
		RoomInfo: core.RoomInfo{ID: meta.ID, Name: meta.Name},
		Snapshot: snap.Normalize(),
	})
}

func (h *roomsHandler) history(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	ops, ok := h.listOperations(c, id, "")
	if !ok {
		return
	}
	if ops == nil {
		ops = []domain.Operation{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": id, "operations": ops})
}

// operations lists the drawing operations of a room, oldest first.
func (h *roomsHandler) operations(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	ops, ok := h.listOperations(c, id, domain.EventDrawingOperation)
	if !ok {
		return
	}
	out := make([]operationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationView(op))
	}
	c.JSON(http.StatusOK, out)
}

func (h *roomsHandler) addOperation(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drawing operation"})
		return
	}
	id := domain.RoomID(c.Param("id"))
	if err := domain.ValidateRoomID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := json.Marshal(domain.DrawingStep{Type: req.Type, Data: req.Data})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drawing operation"})
		return
	}
	op := domain.Operation{RoomID: id, Kind: domain.EventDrawingOperation, Payload: payload, At: time.Now().UTC()}
	if err := h.history.AppendOperation(c.Request.Context(), op); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("append operation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, toOperationView(op))
}

// replaceCanvas sets the room snapshot; live members receive it.
func (h *roomsHandler) replaceCanvas(c *gin.Context) {
	var snap domain.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid canvas data"})
		return
	}
	h.canvasResult(c, h.orch.ReplaceCanvas(domain.RoomID(c.Param("id")), snap))
}

// clearCanvas empties the room snapshot and its operations.
func (h *roomsHandler) clearCanvas(c *gin.Context) {
	h.canvasResult(c, h.orch.ResetCanvas(domain.RoomID(c.Param("id"))))
}

func (h *roomsHandler) canvasResult(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, orch.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (h *roomsHandler) listOperations(c *gin.Context, id domain.RoomID, kind domain.EventType) ([]domain.Operation, bool) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return nil, false
	}
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return nil, false
		}
		limit = min(n, maxHistoryLimit)
	}

	ops, err := h.history.ListOperations(c.Request.Context(), id, kind, limit)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("list operations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return nil, false
	}
	return ops, true
}

func toOperationView(op domain.Operation) operationView {
	v := operationView{RoomID: op.RoomID, At: op.At}
	var step domain.DrawingStep
	if err := json.Unmarshal(op.Payload, &step); err == nil {
		v.Type = step.Type
		v.Data = step.Data
	}
	return v
}
