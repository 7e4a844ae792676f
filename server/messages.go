package server

import (
	"time"

	"sdgateway/moderation"
)

// Message type constants for the notice stream.
const (
	// MessageTypeNotice is a progress message for a running request.
	MessageTypeNotice = "notice"

	// MessageTypeResult carries the final outcome of a request.
	MessageTypeResult = "result"
)

// WSMessage is the envelope of every message on the notice stream.
type WSMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewWSMessage creates a message stamped with the current time.
func NewWSMessage(msgType, requestID string, data interface{}) WSMessage {
	return WSMessage{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NoticeData is the payload of a MessageTypeNotice message.
type NoticeData struct {
	Message string `json:"message"`
}

// generateRequest is the body of POST /v1/sd.
type generateRequest struct {
	UserID         string   `json:"user_id"`
	Prompt         string   `json:"prompt"`
	NegativePrompt *string  `json:"negative_prompt"`
	Img2Img        *string  `json:"img2img"`
	Steps          int      `json:"steps"`
	CFGScale       float64  `json:"cfg_scale"`
	Size           string   `json:"size"`
	Seed           int64    `json:"seed"`
	Sampler        string   `json:"sampler"`
	Scheduler      string   `json:"scheduler"`
	Server         *int     `json:"server"`
	NoPositiveTags bool     `json:"no_positive_tags"`
	NoNegativeTags bool     `json:"no_negative_tags"`
	NoRefiner      bool     `json:"no_refiner"`
	NoTranslate    bool     `json:"no_translate"`
	Model          string   `json:"model"`
	VAE            string   `json:"vae"`

	// QuotedImages are attachments of the message being replied to.
	QuotedImages []string `json:"quoted_images"`
}

// interrogateRequest is the body of POST /v1/sdtag.
type interrogateRequest struct {
	UserID       string   `json:"user_id"`
	Image        string   `json:"image"`
	QuotedImages []string `json:"quoted_images"`
	Model        string   `json:"model"`
	Threshold    float64  `json:"threshold"`
	Server       *int     `json:"server"`
}

type stopRequest struct {
	Server *int `json:"server"`
}

type modelRequest struct {
	Server *int   `json:"server"`
	Kind   string `json:"kind"`
	SDName string `json:"sd_name"`
	VAE    string `json:"vae_name"`
}

type topUpRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount"`
}

// commandResponse is returned by every command endpoint.
type commandResponse struct {
	RequestID  string            `json:"request_id"`
	Message    string            `json:"message,omitempty"`
	Image      []byte            `json:"image,omitempty"`
	MIME       string            `json:"mime,omitempty"`
	Preview    []byte            `json:"preview,omitempty"`
	Suppressed bool              `json:"suppressed,omitempty"`
	Server     int               `json:"server"`
	Score      *moderation.Score `json:"score,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}
