package gemini

import "encoding/json"

type quotaBucket struct {
	ModelID           string   `json:"modelId"`
	RemainingFraction *float64 `json:"remainingFraction"`
	ResetTime         string   `json:"resetTime"`
}

type quotaResponse struct {
	Buckets []quotaBucket `json:"buckets"`
}

type tier struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

type codeAssistMetadata struct {
	IDEType     string `json:"ideType"`
	Platform    string `json:"platform,omitempty"`
	PluginType  string `json:"pluginType"`
	DuetProject string `json:"duetProject,omitempty"`
}

type loadCodeAssistRequest struct {
	CloudAICompanionProject string             `json:"cloudaicompanionProject,omitempty"`
	Metadata                codeAssistMetadata `json:"metadata"`
}

type loadCodeAssistResponse struct {
	CurrentTier  *tier  `json:"currentTier"`
	AllowedTiers []tier `json:"allowedTiers"`

	// Project is either a bare id or an object carrying one.
	Project json.RawMessage `json:"cloudaicompanionProject"`
}

type onboardRequest struct {
	TierID                  string             `json:"tierId"`
	CloudAICompanionProject string             `json:"cloudaicompanionProject,omitempty"`
	Metadata                codeAssistMetadata `json:"metadata"`
}

type operation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		Project json.RawMessage `json:"cloudaicompanionProject"`
	} `json:"response"`
}

type userInfo struct {
	Email string `json:"email"`
}
