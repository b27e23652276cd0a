package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/kmuchiri/dukachat/internal/conversation"
)

// maxChatBody bounds inbound request bodies. Chat events are tiny; anything
// larger is not a legitimate client.
const maxChatBody = 64 << 10

type chatRequest struct {
	UserID string
	Text   string
	Choice string
}

func decodeChatRequest(body []byte) (chatRequest, error) {
	var req chatRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "user_id":
			req.UserID, err = d.Str()
		case "text":
			req.Text, err = d.Str()
		case "choice":
			req.Choice, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func encodeReplies(replies []conversation.Reply) *jx.Encoder {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("replies", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, r := range replies {
					e.Obj(func(e *jx.Encoder) {
						e.Field("text", func(e *jx.Encoder) { e.Str(r.Text) })
						if len(r.Choices) > 0 {
							e.Field("choices", func(e *jx.Encoder) {
								e.Arr(func(e *jx.Encoder) {
									for _, c := range r.Choices {
										e.Str(c)
									}
								})
							})
						}
					})
				}
			})
		})
	})
	return &e
}

// Chat accepts one inbound user event and returns the engine's replies.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	req, err := decodeChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	replies, err := h.engine.HandleEvent(r.Context(), req.UserID, conversation.Event{
		Text:   req.Text,
		Choice: req.Choice,
	})
	if err != nil {
		logRequestError(r.Context(), "Chat event failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, encodeReplies(replies))
}
