package copilot

type quotaSnapshot struct {
	Entitlement      float64  `json:"entitlement"`
	Remaining        float64  `json:"remaining"`
	PercentRemaining *float64 `json:"percent_remaining"`
	Unlimited        bool     `json:"unlimited"`
}

type userResponse struct {
	Login             string `json:"login"`
	CopilotPlan       string `json:"copilot_plan"`
	QuotaResetDate    string `json:"quota_reset_date"`
	QuotaResetDateUTC string `json:"quota_reset_date_utc"`
	QuotaSnapshots    struct {
		PremiumInteractions *quotaSnapshot `json:"premium_interactions"`
	} `json:"quota_snapshots"`
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}
