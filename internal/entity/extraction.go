package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/constants"
)

// Extraction is one uploaded document moving through recognition,
// extraction and user verification.
type Extraction struct {
	ID       uuid.UUID                  `json:"id"`
	Filename string                     `json:"filename"`
	Text     string                     `json:"text"`
	Category constants.Category         `json:"category,omitempty"`
	Status   constants.ExtractionStatus `json:"status"`
	JSON     json.RawMessage            `json:"json,omitempty"`
	Model    string                     `json:"model,omitempty"`
	// ContentHash is the hex sha256 of the source document.
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
