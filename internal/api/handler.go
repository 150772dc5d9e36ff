// Package api exposes the chat application over HTTP and orchestrates the
// send flow: optimistic user message, generation call, AI reply or visible
// failure message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/prismworks/easel/internal/attachment"
	"github.com/prismworks/easel/internal/imagegen"
	"github.com/prismworks/easel/internal/models"
	"github.com/prismworks/easel/internal/store"
)

const maxUploadBytes = 32 << 20

// Generator fulfils image generation and edit requests.
type Generator interface {
	GenerateOrEdit(ctx context.Context, p imagegen.Params) ([]models.GeneratedImage, error)
}

// Refiner rewrites rough prompts into detailed ones.
type Refiner interface {
	RefinePrompt(ctx context.Context, rough string) (string, error)
}

type Handler struct {
	store   *store.Store
	images  Generator
	refiner Refiner
	logger  *zap.Logger

	// sending guards against overlapping sends. A send attempted while one
	// is in flight is ignored, not queued.
	sending atomic.Bool
}

func NewHandler(st *store.Store, images Generator, refiner Refiner, logger *zap.Logger) *Handler {
	return &Handler{
		store:   st,
		images:  images,
		refiner: refiner,
		logger:  logger,
	}
}

type stateResponse struct {
	Sessions  []models.Session `json:"sessions"`
	CurrentID string           `json:"current_session_id"`
}

type sendResponse struct {
	Accepted bool            `json:"accepted"`
	Session  *models.Session `json:"session,omitempty"`
}

// GetState returns the full session collection and the current session id.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, stateResponse{
		Sessions:  h.store.Sessions(),
		CurrentID: h.store.CurrentID(),
	})
}

// CreateSession creates a fresh session and makes it current.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := h.store.CreateSession()
	h.writeJSON(w, sess)
}

type selectRequest struct {
	ID string `json:"id"`
}

// SelectSession changes which session is current.
func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.store.SelectSession(req.ID)
	h.writeJSON(w, stateResponse{
		Sessions:  h.store.Sessions(),
		CurrentID: h.store.CurrentID(),
	})
}

// DeleteSession removes a session by id. The store keeps the collection
// non-empty and the current id valid.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing session id", http.StatusBadRequest)
		return
	}
	h.store.DeleteSession(id)
	h.writeJSON(w, stateResponse{
		Sessions:  h.store.Sessions(),
		CurrentID: h.store.CurrentID(),
	})
}

type settingsRequest struct {
	AspectRatio string `json:"aspect_ratio"`
	ImageCount  int    `json:"image_count"`
}

// UpdateSettings sets the current session's aspect ratio and image count.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := h.store.SetSettings(req.AspectRatio, req.ImageCount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, sess)
}

// ClearReference drops the current session's persistent reference image.
func (h *Handler) ClearReference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := h.store.ClearReferenceImage()
	h.writeJSON(w, sess)
}

// HandleMessage runs the send flow. The request is multipart: a "text"
// field and an optional "image" file. A new upload becomes both a message
// attachment and the session's new reference image; an existing reference
// image rides along silently without being re-shown in the history.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.sending.CompareAndSwap(false, true) {
		// A send is already in flight; drop this one without recording
		// anything.
		h.writeJSON(w, sendResponse{Accepted: false})
		return
	}
	defer h.sending.Store(false)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(r.FormValue("text"))

	var newUpload *models.ImageAttachment
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		att, aerr := attachment.FromReader(file, header.Header.Get("Content-Type"))
		file.Close()
		if aerr != nil {
			// Abort before any message is recorded.
			h.logger.Error("failed to read upload", zap.Error(aerr))
			http.Error(w, "Failed to read uploaded image", http.StatusBadRequest)
			return
		}
		newUpload = &att
	case errors.Is(err, http.ErrMissingFile):
		// No upload this turn.
	default:
		http.Error(w, "Invalid image upload", http.StatusBadRequest)
		return
	}

	if text == "" && newUpload == nil && h.store.Current().ReferenceImage == nil {
		http.Error(w, "Nothing to send", http.StatusBadRequest)
		return
	}

	var attachments []models.ImageAttachment
	if newUpload != nil {
		attachments = []models.ImageAttachment{*newUpload}
	}
	h.store.AppendUserMessage(models.NewUserMessage(text, attachments))
	if newUpload != nil {
		h.store.SetReferenceImage(*newUpload)
	}

	sess := h.store.Current()
	images, err := h.images.GenerateOrEdit(r.Context(), imagegen.Params{
		Prompt:      text,
		AspectRatio: sess.AspectRatio,
		Count:       sess.ImageCount,
		Reference:   sess.ReferenceImage,
	})
	if err != nil {
		h.logger.Error("image generation failed", zap.Error(err))
		updated := h.store.AppendAIMessage(models.NewAIMessage(failureText(err), nil))
		h.writeJSON(w, sendResponse{Accepted: true, Session: &updated})
		return
	}

	summary := summaryText(sess.AspectRatio, len(images), sess.ReferenceImage != nil, newUpload != nil)
	updated := h.store.AppendAIMessage(models.NewAIMessage(summary, images))
	h.writeJSON(w, sendResponse{Accepted: true, Session: &updated})
}

type reuseRequest struct {
	ImageID string `json:"image_id"`
}

type reuseResponse struct {
	Attachment models.ImageAttachment `json:"attachment"`
}

// ReuseImage turns a previously generated gallery image back into a pending
// upload for the client. The payload is decoded to binary and re-wrapped as
// a fresh attachment; the session itself is untouched until the next send.
func (h *Handler) ReuseImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reuseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	img, ok := h.store.FindGalleryImage(req.ImageID)
	if !ok {
		http.Error(w, "Unknown image", http.StatusNotFound)
		return
	}
	raw, err := attachment.Decode(models.ImageAttachment{MIMEType: attachment.DefaultMIMEType, Data: img.Data})
	if err != nil {
		h.logger.Error("failed to decode gallery image", zap.Error(err), zap.String("imageID", req.ImageID))
		http.Error(w, "Failed to decode image", http.StatusInternalServerError)
		return
	}
	att, err := attachment.FromReader(bytes.NewReader(raw), attachment.DefaultMIMEType)
	if err != nil {
		http.Error(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, reuseResponse{Attachment: att})
}

type refineRequest struct {
	Prompt string `json:"prompt"`
}

type refineResponse struct {
	Prompt string `json:"prompt"`
}

// RefinePrompt expands a rough prompt into a detailed one.
func (h *Handler) RefinePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	refined, err := h.refiner.RefinePrompt(r.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("prompt refinement failed", zap.Error(err))
		http.Error(w, "Prompt refinement failed", http.StatusBadGateway)
		return
	}
	h.writeJSON(w, refineResponse{Prompt: refined})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// summaryText phrases the AI reply depending on whether a reference image
// or a fresh upload shaped the result. It always names the aspect ratio.
func summaryText(ratio string, n int, hasReference, newUpload bool) string {
	noun := "image"
	if n != 1 {
		noun = "images"
	}
	switch {
	case newUpload:
		return fmt.Sprintf("I worked from your uploaded image and produced %d %s at %s.", n, noun, ratio)
	case hasReference:
		return fmt.Sprintf("I applied your prompt to the reference image and produced %d %s at %s.", n, noun, ratio)
	default:
		return fmt.Sprintf("Here's %d %s at %s from your description.", n, noun, ratio)
	}
}

// failureText embeds the error's message in a chat reply, with a generic
// fallback when there is nothing useful to show.
func failureText(err error) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return "Something went wrong while generating your image. Please try again."
	}
	return "I couldn't generate that image: " + err.Error()
}
