package models

import "time"

// ModuleType tags an EmailModule variant.
type ModuleType string

// Module variants.
const (
	ModuleHeroLook        ModuleType = "hero_look"
	ModuleOccasionCapsule ModuleType = "occasion_capsule"
	ModuleWardrobeGap     ModuleType = "wardrobe_gap"
	ModuleIntentTile      ModuleType = "intent_tile"
	ModuleStyleStory      ModuleType = "style_story"
	ModulePerk            ModuleType = "perk"
)

// ModuleTypes lists every module variant.
var ModuleTypes = []ModuleType{
	ModuleHeroLook,
	ModuleOccasionCapsule,
	ModuleWardrobeGap,
	ModuleIntentTile,
	ModuleStyleStory,
	ModulePerk,
}

// Valid reports whether t is a known module variant.
func (t ModuleType) Valid() bool {
	for _, m := range ModuleTypes {
		if m == t {
			return true
		}
	}
	return false
}

// ActionKind tags an EmailAction.
type ActionKind string

// Action kinds.
const (
	ActionPaymentLink  ActionKind = "payment_link"
	ActionSearchQuery  ActionKind = "search_query"
	ActionMailto       ActionKind = "mailto"
	ActionExternalLink ActionKind = "external_link"
	ActionLike         ActionKind = "like_action"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionPaymentLink, ActionSearchQuery, ActionMailto, ActionExternalLink, ActionLike:
		return true
	}
	return false
}

// Draft status values.
const (
	DraftStatusDraft = "draft"
	DraftStatusSent  = "sent"
)

// EmailDraft is a stylist's unsent email for one claimed conversation.
type EmailDraft struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	ConversationID  string        `gorm:"size:36;not null;index" json:"conversation_id"`
	StylistID       string        `gorm:"size:64;not null;index" json:"stylist_id"`
	SubjectLine     string        `gorm:"size:256" json:"subject_line"`
	Modules         []EmailModule `gorm:"serializer:json;type:text" json:"modules"`
	IsScheduled     bool          `gorm:"default:false" json:"is_scheduled"`
	ScheduledSendAt *time.Time    `json:"scheduled_send_at,omitempty"`
	Notes           string        `gorm:"type:text" json:"notes,omitempty"`
	Status          string        `gorm:"size:16;default:draft;index" json:"status"`
	IdempotencyKey  string        `gorm:"size:64;uniqueIndex" json:"idempotency_key"`
	MessageID       string        `gorm:"size:128" json:"message_id,omitempty"`
	SentAt          *time.Time    `json:"sent_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Sent reports whether the draft has been handed to the transport.
func (d *EmailDraft) Sent() bool {
	return d.Status == DraftStatusSent
}

// EmailModule is a typed content block. Position in the draft defines render order.
type EmailModule struct {
	ModuleID          string        `json:"module_id"`
	Type              ModuleType    `json:"type"`
	Title             string        `json:"title"`
	Rationale         string        `json:"rationale"`
	Items             []EmailItem   `json:"items"`
	Actions           []EmailAction `json:"actions"`
	GeneratedImageURL string        `json:"generated_image_url,omitempty"`
	BackgroundStyle   string        `json:"background_style,omitempty"`
	AISuggested       bool          `json:"ai_suggested"`
	CreatedAt         time.Time     `json:"created_at"`
}

// EmailItem is a product shown in a module.
type EmailItem struct {
	ProductID          string  `json:"product_id"`
	Brand              string  `json:"brand"`
	Title              string  `json:"title"`
	PriceQuoted        float64 `json:"price_quoted"`
	ImageURL           string  `json:"image_url,omitempty"`
	SizeRecommendation string  `json:"size_recommendation,omitempty"`
	FitNotes           string  `json:"fit_notes,omitempty"`
}

// EmailAction is a call to action rendered under a module.
type EmailAction struct {
	Label string         `json:"label"`
	Kind  ActionKind     `json:"kind"`
	URL   string         `json:"url,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}
