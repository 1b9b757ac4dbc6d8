package evolution

import (
	"fmt"
	"strings"
	"time"

	"github.com/evocrm/wabridge/pkg/phone"
)

// EventType is the normalized name of a gateway webhook event. The gateway
// emits both SCREAMING_SNAKE and dotted.lowercase spellings depending on
// version; ParseEventType accepts either, case-insensitively.
type EventType string

const (
	EventMessageUpsert    EventType = "messages.upsert"
	EventMessageUpdate    EventType = "messages.update"
	EventConnectionUpdate EventType = "connection.update"
	EventQRCodeUpdate     EventType = "qrcode.updated"
	EventContactsUpdate   EventType = "contacts.update"
	EventChatsUpdate      EventType = "chats.update"
	EventUnknown          EventType = ""
)

// ParseEventType maps a raw event name onto the normalized set.
func ParseEventType(raw string) EventType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", ".")

	switch normalized {
	case "messages.upsert", "message.upsert":
		return EventMessageUpsert
	case "messages.update", "message.update":
		return EventMessageUpdate
	case "connection.update":
		return EventConnectionUpdate
	case "qrcode.updated", "qrcode.update":
		return EventQRCodeUpdate
	case "contacts.update", "contacts.upsert":
		return EventContactsUpdate
	case "chats.update", "chats.upsert":
		return EventChatsUpdate
	}
	return EventUnknown
}

// WebhookEvent is the envelope every gateway webhook carries.
type WebhookEvent struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     map[string]any `json:"data"`
}

// MediaKind is the explicit sum over every content shape the gateway can
// deliver. Probes run in this order and the first match wins.
type MediaKind string

const (
	KindText        MediaKind = "text"
	KindImage       MediaKind = "image"
	KindVideo       MediaKind = "video"
	KindDocument    MediaKind = "document"
	KindAudio       MediaKind = "audio"
	KindSticker     MediaKind = "sticker"
	KindLocation    MediaKind = "location"
	KindContact     MediaKind = "contact"
	KindUnsupported MediaKind = "unsupported"
)

// MediaDescriptor is the structured remnant of a media payload, kept in
// message metadata so the CRM can render or fetch the original.
type MediaDescriptor struct {
	Kind      MediaKind `json:"kind"`
	MimeType  string    `json:"mimetype,omitempty"`
	URL       string    `json:"url,omitempty"`
	FileName  string    `json:"filename,omitempty"`
	Seconds   int       `json:"seconds,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Caption   string    `json:"caption,omitempty"`
}

// MessageIntent is the single internal record every inbound message shape
// normalizes into.
type MessageIntent struct {
	SenderPhone  string
	IsGroup      bool
	IsFromSelf   bool
	Content      string
	Kind         MediaKind
	Media        *MediaDescriptor
	RawMessageID string
	Timestamp    time.Time
	PushName     string
	Instance     string
}

// SkipError signals the event was understood but carries nothing to process.
// The gateway layer still acknowledges it with a 200.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "event skipped: " + e.Reason
}

func skip(format string, args ...any) *SkipError {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Normalizer converts heterogeneous webhook payloads into MessageIntents.
type Normalizer struct {
	countryCode string
}

func NewNormalizer(countryCode string) *Normalizer {
	return &Normalizer{countryCode: countryCode}
}

// Normalize produces a MessageIntent or a *SkipError describing why the
// event cannot become one.
func (n *Normalizer) Normalize(evt WebhookEvent) (*MessageIntent, error) {
	data := evt.Data
	if data == nil {
		return nil, skip("event has no data")
	}

	key, _ := data["key"].(map[string]any)
	if key == nil {
		return nil, skip("event has no message key")
	}

	remoteJid, _ := key["remoteJid"].(string)
	participant, _ := key["participant"].(string)
	fromMe, _ := key["fromMe"].(bool)
	rawID, _ := key["id"].(string)

	isGroup := phone.IsGroupJID(remoteJid)
	senderPhone := n.extractPhone(remoteJid, participant, isGroup)
	if senderPhone == "" {
		return nil, skip("no individual phone in remoteJid %q / participant %q", remoteJid, participant)
	}

	content, kind, media := extractContent(data)
	if content == "" {
		return nil, skip("message %s has no extractable content", rawID)
	}

	pushName, _ := data["pushName"].(string)

	return &MessageIntent{
		SenderPhone:  senderPhone,
		IsGroup:      isGroup,
		IsFromSelf:   fromMe,
		Content:      content,
		Kind:         kind,
		Media:        media,
		RawMessageID: rawID,
		Timestamp:    extractTimestamp(data),
		PushName:     strings.TrimSpace(pushName),
		Instance:     evt.Instance,
	}, nil
}

// extractPhone never attributes an individual phone to a group JID; for
// group messages the participant field is the only phone source.
func (n *Normalizer) extractPhone(remoteJid, participant string, isGroup bool) string {
	primary := remoteJid
	if isGroup {
		primary = participant
	}

	bare := phone.ExtractFromJID(primary)
	if bare == "" && !isGroup && participant != "" {
		bare = phone.ExtractFromJID(participant)
	}
	return phone.Canonicalize(bare, n.countryCode)
}

// contentProbe extracts one content shape from the raw message map.
type contentProbe struct {
	kind  MediaKind
	probe func(msg map[string]any) (string, *MediaDescriptor, bool)
}

// Probes run in order; plain text shapes precede media shapes so captions do
// not shadow conversation text.
var contentProbes = []contentProbe{
	{KindText, probeConversation},
	{KindText, probeExtendedText},
	{KindImage, mediaProbe(KindImage, "imageMessage", "[Imagem]")},
	{KindVideo, mediaProbe(KindVideo, "videoMessage", "[Vídeo]")},
	{KindDocument, mediaProbe(KindDocument, "documentMessage", "[Documento]")},
	{KindAudio, mediaProbe(KindAudio, "audioMessage", "[Áudio]")},
	{KindSticker, mediaProbe(KindSticker, "stickerMessage", "[Figurinha]")},
	{KindLocation, probeLocation},
	{KindContact, probeContact},
}

func extractContent(data map[string]any) (string, MediaKind, *MediaDescriptor) {
	msg, _ := data["message"].(map[string]any)
	if msg == nil {
		return "", KindUnsupported, nil
	}

	for _, p := range contentProbes {
		if content, media, ok := p.probe(msg); ok {
			return content, p.kind, media
		}
	}

	// Unmatched shapes degrade to a generic placeholder instead of failing.
	if len(msg) > 0 {
		return "[Mensagem não suportada]", KindUnsupported, &MediaDescriptor{Kind: KindUnsupported}
	}
	return "", KindUnsupported, nil
}

func probeConversation(msg map[string]any) (string, *MediaDescriptor, bool) {
	if text, _ := msg["conversation"].(string); strings.TrimSpace(text) != "" {
		return text, nil, true
	}
	return "", nil, false
}

func probeExtendedText(msg map[string]any) (string, *MediaDescriptor, bool) {
	ext, _ := msg["extendedTextMessage"].(map[string]any)
	if ext == nil {
		return "", nil, false
	}
	if text, _ := ext["text"].(string); strings.TrimSpace(text) != "" {
		return text, nil, true
	}
	return "", nil, false
}

// mediaProbe builds a probe for one media shape: bracketed placeholder plus
// a structured descriptor.
func mediaProbe(kind MediaKind, field, placeholder string) func(map[string]any) (string, *MediaDescriptor, bool) {
	return func(msg map[string]any) (string, *MediaDescriptor, bool) {
		media, _ := msg[field].(map[string]any)
		if media == nil {
			return "", nil, false
		}

		desc := &MediaDescriptor{Kind: kind}
		desc.MimeType, _ = media["mimetype"].(string)
		desc.URL, _ = media["url"].(string)
		desc.FileName, _ = media["fileName"].(string)
		desc.Caption, _ = media["caption"].(string)
		if secs, ok := media["seconds"].(float64); ok {
			desc.Seconds = int(secs)
		}

		content := placeholder
		if desc.Caption != "" {
			content = placeholder + " " + desc.Caption
		}
		return content, desc, true
	}
}

func probeLocation(msg map[string]any) (string, *MediaDescriptor, bool) {
	loc, _ := msg["locationMessage"].(map[string]any)
	if loc == nil {
		return "", nil, false
	}

	desc := &MediaDescriptor{Kind: KindLocation}
	desc.Latitude, _ = loc["degreesLatitude"].(float64)
	desc.Longitude, _ = loc["degreesLongitude"].(float64)

	content := "[Localização]"
	if name, _ := loc["name"].(string); name != "" {
		content = "[Localização] " + name
	}
	return content, desc, true
}

func probeContact(msg map[string]any) (string, *MediaDescriptor, bool) {
	contact, _ := msg["contactMessage"].(map[string]any)
	if contact == nil {
		return "", nil, false
	}

	content := "[Contato]"
	if name, _ := contact["displayName"].(string); name != "" {
		content = "[Contato] " + name
	}
	return content, &MediaDescriptor{Kind: KindContact}, true
}

func extractTimestamp(data map[string]any) time.Time {
	switch ts := data["messageTimestamp"].(type) {
	case float64:
		return time.Unix(int64(ts), 0).UTC()
	case string:
		var secs int64
		if _, err := fmt.Sscanf(ts, "%d", &secs); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Now().UTC()
}
