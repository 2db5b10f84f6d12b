package contracts

import "encoding/json"

// SourcePayload is the tagged union over the evidence-type enumeration.
// Typed fields carry the metadata this engine reasons about; Raw preserves
// the untouched platform payload so canonicalization is total and
// unambiguous. The whole structure is what gets fingerprinted.
type SourcePayload struct {
	Type EvidenceType `json:"type"`

	// Exactly one of the following is set, matching Type.
	SocialMedia *SocialMediaPayload `json:"social_media,omitempty"`
	Screenshot  *ScreenshotPayload  `json:"screenshot,omitempty"`
	Chat        *ChatPayload        `json:"chat,omitempty"`
	Email       *EmailPayload       `json:"email,omitempty"`
	Document    *DocumentPayload    `json:"document,omitempty"`
	Media       *MediaPayload       `json:"media,omitempty"`
	Log         *LogPayload         `json:"log,omitempty"`

	// Raw is the opaque external platform payload, byte-preserved.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// SocialMediaPayload covers social_media_post evidence.
type SocialMediaPayload struct {
	Platform string `json:"platform"`
	PostID   string `json:"post_id"`
	Author   string `json:"author,omitempty"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ScreenshotPayload covers screenshot evidence.
type ScreenshotPayload struct {
	CapturedURL string `json:"captured_url,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Device      string `json:"device,omitempty"`
}

// ChatPayload covers chat_message evidence.
type ChatPayload struct {
	Platform  string `json:"platform"`
	ChatID    string `json:"chat_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EmailPayload covers email evidence.
type EmailPayload struct {
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// DocumentPayload covers document and database_record evidence.
type DocumentPayload struct {
	Title    string `json:"title,omitempty"`
	Origin   string `json:"origin,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// MediaPayload covers audio and video evidence.
type MediaPayload struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Codec           string  `json:"codec,omitempty"`
	Source          string  `json:"source,omitempty"`
}

// LogPayload covers network_log and system_log evidence.
type LogPayload struct {
	Host      string `json:"host,omitempty"`
	Collector string `json:"collector,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
}

// Platform returns the best-effort source platform for the payload variant.
func (p *SourcePayload) Platform() string {
	switch {
	case p.SocialMedia != nil:
		return p.SocialMedia.Platform
	case p.Chat != nil:
		return p.Chat.Platform
	case p.Email != nil:
		return "email"
	case p.Screenshot != nil && p.Screenshot.CapturedURL != "":
		return p.Screenshot.CapturedURL
	}
	return ""
}
