package claude

type usageWindow struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    string   `json:"resets_at"`
}

type extraUsage struct {
	IsEnabled    bool     `json:"is_enabled"`
	UsedCredits  *float64 `json:"used_credits"`
	MonthlyLimit *float64 `json:"monthly_limit"`
	Currency     string   `json:"currency"`
}

type usageResponse struct {
	FiveHour       *usageWindow `json:"five_hour"`
	SevenDay       *usageWindow `json:"seven_day"`
	SevenDaySonnet *usageWindow `json:"seven_day_sonnet"`
	SevenDayOpus   *usageWindow `json:"seven_day_opus"`
	ExtraUsage     *extraUsage  `json:"extra_usage"`
}

type profileResponse struct {
	Account *struct {
		Email        string `json:"email"`
		HasClaudeMax bool   `json:"has_claude_max"`
		HasClaudePro bool   `json:"has_claude_pro"`
	} `json:"account"`
	Organization *struct {
		OrganizationType string `json:"organization_type"`
		BillingType      string `json:"billing_type"`
		RateLimitTier    string `json:"rate_limit_tier"`
	} `json:"organization"`
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type exchangeRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state,omitempty"`
}
