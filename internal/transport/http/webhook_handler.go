package http

import (
	"encoding/json"
	"log"
	"net/http"

	"gatebot/internal/app"
)

// WebhookHandler receives platform updates pushed to the bot's webhook URL
// and translates them into gate events. Handler failures are logged, never
// returned to the platform: a non-200 would make it redeliver an update we
// already consumed.
type WebhookHandler struct {
	service *app.GateService
}

func NewWebhookHandler(service *app.GateService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

type update struct {
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID      int       `json:"message_id"`
	Chat           chatRef   `json:"chat"`
	NewChatMembers []userRef `json:"new_chat_members"`
	LeftChatMember *userRef  `json:"left_chat_member"`
}

type chatRef struct {
	ID int64 `json:"id"`
}

type userRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    userRef  `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

// ServeUpdate handles one webhook POST.
func (h *WebhookHandler) ServeUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var upd update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		cq := upd.CallbackQuery
		err := h.service.HandleCallback(ctx, app.CallbackEvent{
			CallbackID: cq.ID,
			ChatID:     cq.Message.Chat.ID,
			UserID:     cq.From.ID,
			MessageID:  cq.Message.MessageID,
			Data:       cq.Data,
		})
		if err != nil {
			log.Printf("webhook: callback from %d: %v", cq.From.ID, err)
		}
	case upd.Message != nil && len(upd.Message.NewChatMembers) > 0:
		for _, member := range upd.Message.NewChatMembers {
			err := h.service.HandleJoin(ctx, app.JoinEvent{
				ChatID:   upd.Message.Chat.ID,
				UserID:   member.ID,
				Username: member.Username,
			})
			if err != nil {
				log.Printf("webhook: join of %d: %v", member.ID, err)
			}
		}
	case upd.Message != nil && upd.Message.LeftChatMember != nil:
		err := h.service.HandleLeave(ctx, app.LeaveEvent{
			ChatID:    upd.Message.Chat.ID,
			UserID:    upd.Message.LeftChatMember.ID,
			MessageID: upd.Message.MessageID,
		})
		if err != nil {
			log.Printf("webhook: leave of %d: %v", upd.Message.LeftChatMember.ID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
}
