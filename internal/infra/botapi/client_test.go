package botapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatebot/internal/app"
)

func TestSendMessageEncodesKeyboard(t *testing.T) {
	var captured map[string]any
	server := fakeAPI(t, &captured, `{"ok":true,"result":{"message_id":42}}`)
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL)
	id, err := client.SendMessage(context.Background(), -100123, "hello", [][]app.Button{
		{{Label: "Ready", Data: "ready"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected message id 42, got %d", id)
	}
	if captured["chat_id"].(float64) != -100123 {
		t.Fatalf("chat_id: %v", captured["chat_id"])
	}
	markup := captured["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	button := rows[0].([]any)[0].(map[string]any)
	if button["text"] != "Ready" || button["callback_data"] != "ready" {
		t.Fatalf("keyboard: %v", button)
	}
}

func TestCallSurfacesAPIErrors(t *testing.T) {
	server := fakeAPI(t, nil, `{"ok":false,"description":"Bad Request: user not found"}`)
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL)
	err := client.BanMember(context.Background(), -100123, 7)
	if err == nil {
		t.Fatalf("expected API error")
	}
}

func TestIsAdmin(t *testing.T) {
	server := fakeAPI(t, nil, `{"ok":true,"result":[{"user":{"id":50}},{"user":{"id":51}}]}`)
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL)
	admin, err := client.IsAdmin(context.Background(), -100123, 50)
	if err != nil || !admin {
		t.Fatalf("expected admin, got %v (%v)", admin, err)
	}
	admin, err = client.IsAdmin(context.Background(), -100123, 7)
	if err != nil || admin {
		t.Fatalf("expected non-admin, got %v (%v)", admin, err)
	}
}

func TestBotID(t *testing.T) {
	server := fakeAPI(t, nil, `{"ok":true,"result":{"id":999,"username":"gatebot"}}`)
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL)
	id, err := client.BotID(context.Background())
	if err != nil || id != 999 {
		t.Fatalf("got %d (%v)", id, err)
	}
}

func fakeAPI(t *testing.T, captured *map[string]any, response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
}
