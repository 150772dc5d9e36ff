package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Aspect ratios accepted by the generation settings.
const (
	RatioSquare        = "1:1"
	RatioPortrait      = "3:4"
	RatioLandscape     = "4:3"
	RatioTallPortrait  = "9:16"
	RatioWideLandscape = "16:9"
)

const (
	DefaultAspectRatio = RatioSquare
	DefaultImageCount  = 1
	MaxImageCount      = 3
)

// ValidAspectRatio reports whether r is one of the supported ratio labels.
func ValidAspectRatio(r string) bool {
	switch r {
	case RatioSquare, RatioPortrait, RatioLandscape, RatioTallPortrait, RatioWideLandscape:
		return true
	}
	return false
}

// ImageAttachment is an inline image payload: a user upload on a message, or
// a session's persistent reference image.
type ImageAttachment struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64, no data URL prefix
}

// GeneratedImage is one model output. It lives on the AI message that
// produced it and, as an independent copy, in the session gallery.
type GeneratedImage struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"` // base64 PNG
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single chat turn. Messages are append-only and never mutated
// after creation.
type Message struct {
	ID          string            `json:"id"`
	Sender      Sender            `json:"sender"`
	Text        string            `json:"text,omitempty"`
	Attachments []ImageAttachment `json:"attachments,omitempty"`
	Images      []GeneratedImage  `json:"images,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Session is an isolated conversation with its own gallery, reference image
// and generation settings.
type Session struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Messages       []Message        `json:"messages"`
	Gallery        []GeneratedImage `json:"gallery"`
	ReferenceImage *ImageAttachment `json:"reference_image,omitempty"`
	AspectRatio    string           `json:"aspect_ratio"`
	ImageCount     int              `json:"image_count"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewSession returns an empty session with default generation settings.
func NewSession() Session {
	return Session{
		ID:          uuid.NewString(),
		Messages:    []Message{},
		Gallery:     []GeneratedImage{},
		AspectRatio: DefaultAspectRatio,
		ImageCount:  DefaultImageCount,
		UpdatedAt:   time.Now().UTC(),
	}
}

// NewUserMessage builds a user turn carrying text and any images uploaded
// this turn.
func NewUserMessage(text string, attachments []ImageAttachment) Message {
	return Message{
		ID:          uuid.NewString(),
		Sender:      SenderUser,
		Text:        text,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewAIMessage builds an AI turn carrying summary text and any generated
// images.
func NewAIMessage(text string, images []GeneratedImage) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    SenderAI,
		Text:      text,
		Images:    images,
		CreatedAt: time.Now().UTC(),
	}
}

// NewGeneratedImage wraps one model output with its originating prompt.
func NewGeneratedImage(data, prompt string) GeneratedImage {
	return GeneratedImage{
		ID:        uuid.NewString(),
		Data:      data,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
}
