package web

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"
)

// handleImage serves a stored image's decoded bytes. Access follows
// conversation ownership.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	img, err := s.artifacts.GetByID(id)
	if err != nil {
		s.logger.Error("load image", "id", id, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}
	if img == nil {
		http.NotFound(w, r)
		return
	}

	conv, err := s.convs.GetConversation(img.ConversationID)
	if err != nil || conv == nil || conv.OwnerID != sess.UserID {
		http.NotFound(w, r)
		return
	}

	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		s.logger.Error("decode image payload", "id", id, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	_, _ = w.Write(data)
}

// handleShareQR returns a QR code PNG pointing at the conversation, so
// a chat can be moved to a phone by scanning the screen.
func (s *Server) handleShareQR(w http.ResponseWriter, r *http.Request) {
	conv := s.ownedConversation(w, r)
	if conv == nil {
		return
	}

	target := s.baseURL + "/conversations/" + conv.ID
	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("encode share QR", "conversation", conv.ID, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
