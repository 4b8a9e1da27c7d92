package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phantomtech/mirage/internal/artifact"
	"github.com/phantomtech/mirage/internal/history"
	"github.com/phantomtech/mirage/internal/llm"
	"github.com/phantomtech/mirage/internal/memory"
)

// recentImageWindow bounds the durable-store fallback on the live
// render path. Generous because image generation can run long.
const recentImageWindow = 120 * time.Second

// maxUploadSize caps one uploaded image.
const maxUploadSize = 8 << 20

// uploadMimeTypes are the image formats accepted from the uploader.
var uploadMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ChatData is the template context for the chat page.
type ChatData struct {
	BrandName     string
	Username      string
	Conversations []*memory.Conversation
	Current       *memory.Conversation
	Entries       []entryView
}

// entryView is one display-ready transcript row.
type entryView struct {
	Role   string
	HTML   template.HTML
	Images []artifact.Image
}

// handleHome redirects to the most recent conversation, creating one
// for first-time visitors.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)

	convs, err := s.convs.ListConversations(sess.UserID)
	if err != nil {
		s.logger.Error("list conversations", "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}

	if len(convs) == 0 {
		conv, err := s.convs.CreateConversation(sess.UserID, "")
		if err != nil {
			s.logger.Error("create conversation", "error", err)
			http.Error(w, "服务器内部错误", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/conversations/"+conv.ID, http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/conversations/"+convs[0].ID, http.StatusSeeOther)
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)

	conv, err := s.convs.CreateConversation(sess.UserID, r.FormValue("title"))
	if err != nil {
		s.logger.Error("create conversation", "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/conversations/"+conv.ID, http.StatusSeeOther)
}

// handleConversation renders the chat page from the persisted turn
// log, with every stored image attached to its producing turn.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)

	conv := s.ownedConversation(w, r)
	if conv == nil {
		return
	}

	convs, err := s.convs.ListConversations(sess.UserID)
	if err != nil {
		s.logger.Error("list conversations", "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}

	entries, err := s.runtime.State(r.Context(), conv.ID)
	if err != nil {
		s.logger.Error("load transcript", "conversation", conv.ID, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}

	s.render(w, "chat.html", ChatData{
		BrandName:     s.brandName,
		Username:      sess.Username,
		Conversations: convs,
		Current:       conv,
		Entries:       entriesToViews(entries),
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	id := r.PathValue("id")

	if err := s.convs.RenameConversation(id, sess.UserID, r.FormValue("title")); err != nil {
		s.logger.Error("rename conversation", "conversation", id, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/conversations/"+id, http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	id := r.PathValue("id")

	if err := s.convs.DeleteConversation(id, sess.UserID); err != nil {
		s.logger.Error("delete conversation", "conversation", id, "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return
	}
	if err := s.artifacts.DeleteForConversation(id); err != nil {
		s.logger.Error("delete conversation images", "conversation", id, "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// messageResponse is the JSON body returned to the chat page script.
type messageResponse struct {
	Role   string  `json:"role"`
	HTML   string  `json:"html"`
	Images []int64 `json:"images,omitempty"`
}

// handleMessage runs one assistant request and returns the rendered
// reply. Images generated during the request come from the handoff
// buffer; when the buffer missed them, the reply's reference tokens
// gate a recovery read from the durable store.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	conv := s.ownedConversation(w, r)
	if conv == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)

	text := r.FormValue("message")
	if text == "" {
		http.Error(w, "消息不能为空", http.StatusBadRequest)
		return
	}

	attachments, err := s.uploadedAttachments(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply, err := s.runtime.InvokeWith(r.Context(), conv.ID, text, attachments)
	if err != nil {
		s.logger.Error("assistant request failed", "conversation", conv.ID, "error", err)
		http.Error(w, "助手处理请求时出错，请重试", http.StatusBadGateway)
		return
	}

	// The reply may carry reference tokens echoed from tool output;
	// strip them the same way the reconciler does. The ids double as
	// evidence that this request actually generated images, so a
	// follow-up turn never re-echoes earlier ones.
	refIDs, cleaned := history.ExtractImageRefs(reply)
	cleaned = strings.TrimSpace(cleaned)

	images := s.drainImages(conv.ID)
	if len(images) == 0 && len(refIDs) > 0 {
		images = s.resolveImageRefs(conv.ID, refIDs)
	}
	if cleaned == "" && len(refIDs) > 0 {
		cleaned = history.ConfirmationPhrase
	}

	ids := make([]int64, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(messageResponse{
		Role:   history.RoleAssistant,
		HTML:   string(renderMarkdown(cleaned)),
		Images: ids,
	})
}

// uploadedAttachments extracts an optional image upload from the
// message form. A plain urlencoded post has no file and returns nil.
func (s *Server) uploadedAttachments(r *http.Request) ([]llm.Attachment, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("图片上传失败，请重试")
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		return nil, fmt.Errorf("图片不能超过 8MB")
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("图片上传失败，请重试")
	}

	// Sniff the content rather than trusting the part header.
	mime := http.DetectContentType(data)
	if !uploadMimeTypes[mime] {
		return nil, fmt.Errorf("仅支持 JPG、PNG、GIF、WebP 格式的图片")
	}

	return []llm.Attachment{{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mime,
	}}, nil
}

// resolveImageRefs recovers images the handoff buffer missed (for
// example after a restart between generation and delivery). Referenced
// ids come from the durable store; only images owned by this
// conversation qualify. When none of the ids resolve, the recent
// window is the last resort, oldest first to match creation order.
func (s *Server) resolveImageRefs(conversationID string, ids []int64) []artifact.Image {
	var images []artifact.Image
	for _, id := range ids {
		img, err := s.artifacts.GetByID(id)
		if err != nil {
			s.logger.Warn("resolve image reference failed", "id", id, "error", err)
			continue
		}
		if img == nil || img.ConversationID != conversationID {
			continue
		}
		images = append(images, *img)
	}
	if len(images) > 0 {
		return images
	}

	recent, err := s.artifacts.ListRecent(conversationID, recentImageWindow, 4)
	if err != nil {
		s.logger.Warn("recent image fallback failed", "conversation", conversationID, "error", err)
		return nil
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// drainImages empties the handoff buffer and keeps this conversation's
// images. Images belonging to other in-flight conversations go back in.
func (s *Server) drainImages(conversationID string) []artifact.Image {
	var mine []artifact.Image
	for _, img := range s.handoff.Drain() {
		if img.ConversationID == conversationID {
			mine = append(mine, img)
		} else {
			s.handoff.Add(img)
		}
	}
	return mine
}

// ownedConversation loads the conversation in the URL and checks that
// the session user owns it. Writes the error response itself and
// returns nil when the caller should stop.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request) *memory.Conversation {
	sess := currentSession(r)

	conv, err := s.convs.GetConversation(r.PathValue("id"))
	if err != nil {
		s.logger.Error("load conversation", "error", err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
		return nil
	}
	if conv == nil || conv.OwnerID != sess.UserID {
		http.NotFound(w, r)
		return nil
	}
	return conv
}

// entriesToViews renders transcript markdown for the template.
func entriesToViews(entries []history.Entry) []entryView {
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			Role:   e.Role,
			HTML:   renderMarkdown(e.Text),
			Images: e.Images,
		})
	}
	return views
}
