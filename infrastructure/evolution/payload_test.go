package evolution

import (
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	cases := []struct {
		raw  string
		want EventType
	}{
		{"MESSAGES_UPSERT", EventMessageUpsert},
		{"messages.upsert", EventMessageUpsert},
		{"Messages.Upsert", EventMessageUpsert},
		{"CONNECTION_UPDATE", EventConnectionUpdate},
		{"qrcode.updated", EventQRCodeUpdate},
		{"QRCODE_UPDATED", EventQRCodeUpdate},
		{"CONTACTS_UPDATE", EventContactsUpdate},
		{"chats.update", EventChatsUpdate},
		{"something.else", EventUnknown},
	}

	for _, tc := range cases {
		if got := ParseEventType(tc.raw); got != tc.want {
			t.Errorf("ParseEventType(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func upsertEvent(data map[string]any) WebhookEvent {
	return WebhookEvent{Event: "MESSAGES_UPSERT", Instance: "main", Data: data}
}

func TestNormalizePlainText(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"fromMe":    false,
			"id":        "WAMID-1",
		},
		"pushName":         "Maria",
		"message":          map[string]any{"conversation": "Olá"},
		"messageTimestamp": float64(1700000000),
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if intent.SenderPhone != "5511999887766" {
		t.Errorf("phone = %q", intent.SenderPhone)
	}
	if intent.Content != "Olá" {
		t.Errorf("content = %q", intent.Content)
	}
	if intent.Kind != KindText {
		t.Errorf("kind = %q", intent.Kind)
	}
	if intent.PushName != "Maria" {
		t.Errorf("pushName = %q", intent.PushName)
	}
	if !intent.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("timestamp = %v", intent.Timestamp)
	}
}

func TestNormalizeGroupUsesParticipant(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid":   "123456@g.us",
			"participant": "5511888777666@s.whatsapp.net",
			"id":          "WAMID-2",
		},
		"message": map[string]any{"conversation": "oi grupo"},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !intent.IsGroup {
		t.Error("expected IsGroup")
	}
	if intent.SenderPhone != "5511888777666" {
		t.Errorf("expected participant phone, got %q", intent.SenderPhone)
	}
}

func TestNormalizeGroupWithoutParticipantSkips(t *testing.T) {
	n := NewNormalizer("55")

	_, err := n.Normalize(upsertEvent(map[string]any{
		"key":     map[string]any{"remoteJid": "123456@g.us", "id": "WAMID-3"},
		"message": map[string]any{"conversation": "oi"},
	}))

	if _, ok := err.(*SkipError); !ok {
		t.Fatalf("expected SkipError, got %v", err)
	}
}

func TestNormalizeNonDigitIdentifierSkips(t *testing.T) {
	n := NewNormalizer("55")

	_, err := n.Normalize(upsertEvent(map[string]any{
		"key":     map[string]any{"remoteJid": "55a11b999887766@s.whatsapp.net", "id": "WAMID-9"},
		"message": map[string]any{"conversation": "oi"},
	}))

	if _, ok := err.(*SkipError); !ok {
		t.Fatalf("expected SkipError, got %v", err)
	}
}

func TestNormalizeAudioPlaceholder(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"id":        "WAMID-4",
		},
		"message": map[string]any{
			"audioMessage": map[string]any{
				"mimetype": "audio/ogg; codecs=opus",
				"url":      "https://mmg.whatsapp.net/a.enc",
				"seconds":  float64(12),
			},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if intent.Content != "[Áudio]" {
		t.Errorf("content = %q", intent.Content)
	}
	if intent.Kind != KindAudio {
		t.Errorf("kind = %q", intent.Kind)
	}
	if intent.Media == nil || intent.Media.MimeType != "audio/ogg; codecs=opus" || intent.Media.Seconds != 12 {
		t.Errorf("media = %+v", intent.Media)
	}
}

func TestNormalizeImageCaption(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"id":        "WAMID-5",
		},
		"message": map[string]any{
			"imageMessage": map[string]any{
				"mimetype": "image/jpeg",
				"caption":  "olha isso",
			},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if intent.Content != "[Imagem] olha isso" {
		t.Errorf("content = %q", intent.Content)
	}
}

func TestNormalizeUnsupportedShape(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"id":        "WAMID-6",
		},
		"message": map[string]any{
			"pollCreationMessage": map[string]any{"name": "enquete"},
		},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if intent.Content != "[Mensagem não suportada]" {
		t.Errorf("content = %q", intent.Content)
	}
	if intent.Kind != KindUnsupported {
		t.Errorf("kind = %q", intent.Kind)
	}
}

func TestNormalizeFromSelf(t *testing.T) {
	n := NewNormalizer("55")

	intent, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"fromMe":    true,
			"id":        "WAMID-7",
		},
		"message": map[string]any{"conversation": "resposta automática"},
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !intent.IsFromSelf {
		t.Error("expected IsFromSelf")
	}
}

func TestNormalizeMissingContentSkips(t *testing.T) {
	n := NewNormalizer("55")

	_, err := n.Normalize(upsertEvent(map[string]any{
		"key": map[string]any{
			"remoteJid": "5511999887766@s.whatsapp.net",
			"id":        "WAMID-8",
		},
	}))

	if _, ok := err.(*SkipError); !ok {
		t.Fatalf("expected SkipError, got %v", err)
	}
}
