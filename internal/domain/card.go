package domain

// CardKind names the role a card plays in the session.
type CardKind string

// Card kinds in the order they are drawn.
const (
	CardState      CardKind = "state"
	CardResource   CardKind = "resource"
	CardTransition CardKind = "transition"
	CardMeaning    CardKind = "meaning"
)

// Card is one generated text and image unit.
type Card struct {
	Kind         CardKind `json:"kind"`
	VisualPrompt string   `json:"visual_prompt"`
	Description  string   `json:"description"`
	Symbols      string   `json:"symbols,omitempty"`
	Conclusion   string   `json:"conclusion,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
}
