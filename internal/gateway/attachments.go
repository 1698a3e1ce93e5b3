// ABOUTME: Multipart attachment upload endpoint
// ABOUTME: Stores the file through the attachment host, then sends an IMAGE or FILE message carrying its URL

package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/2389/shopchat/internal/attachment"
	"github.com/2389/shopchat/internal/auth"
	"github.com/2389/shopchat/internal/conversation"
)

// multipartOverhead leaves room for form fields and boundaries on top of the file limit.
const multipartOverhead = 1 << 20

// attachmentStatus maps upload validation failures to HTTP statuses.
func attachmentStatus(err error) int {
	switch {
	case errors.Is(err, attachment.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, attachment.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, attachment.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusServiceUnavailable
	}
}

// handleUploadAttachment handles POST /api/v1/conversations/{id}/attachments.
// The form carries the file under "file" and an optional caption under "body".
func (g *Gateway) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.MustFromContext(ctx)

	conv, err := g.chat.GetConversation(ctx, mux.Vars(r)["id"])
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if !g.canSend(conv, actor) {
		g.sendError(w, r, errNotMember)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, g.uploader.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, attachment.ErrTooLarge.Error())
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	att, err := g.uploader.Upload(ctx, conv.ID, header.Filename, file)
	if err != nil {
		status := attachmentStatus(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("attachment upload failed", "conversation_id", conv.ID, "error", err)
			g.sendJSONError(w, status, "attachment storage unavailable")
			return
		}
		g.sendJSONError(w, status, err.Error())
		return
	}

	msg, err := g.chat.SendMessage(ctx, &conversation.SendRequest{
		ConversationID: conv.ID,
		SenderID:       actor.UserID,
		SenderName:     actor.DisplayName,
		Body:           r.FormValue("body"),
		Type:           att.Type,
		AttachmentURL:  att.URL,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := toMessageResponse(msg)
	g.writeJSON(w, http.StatusCreated, map[string]any{
		"message": resp,
		"attachment": map[string]any{
			"url":         att.URL,
			"contentType": att.ContentType,
			"size":        att.Size,
			"type":        string(att.Type),
		},
	})
}
