package signal

import (
	"encoding/json"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type joinPayload struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
}

type canvasPayload struct {
	RoomID      string           `json:"roomId" validate:"required,max=64"`
	CanvasState *domain.Snapshot `json:"canvasState" validate:"required"`
}

type cursorPayload struct {
	RoomID string   `json:"roomId" validate:"required,max=64"`
	X      *float64 `json:"x" validate:"required"`
	Y      *float64 `json:"y" validate:"required"`
}

type drawingPayload struct {
	RoomID    string          `json:"roomId" validate:"required,max=64"`
	Operation json.RawMessage `json:"operation" validate:"required"`
}

type drawingKind struct {
	Type string `json:"type" validate:"required,max=64"`
}

type roomPayload struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
}

// decode unmarshals a frame into p and validates it.
func decode(data []byte, p any) error {
	if err := json.Unmarshal(data, p); err != nil {
		return err
	}
	return validate.Struct(p)
}
