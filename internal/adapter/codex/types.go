package codex

type whamWindow struct {
	UsedPercent        *float64 `json:"used_percent"`
	LimitWindowSeconds float64  `json:"limit_window_seconds"`
	ResetAt            float64  `json:"reset_at"`
	ResetAfterSeconds  float64  `json:"reset_after_seconds"`
}

type whamUsageResponse struct {
	PlanType  string `json:"plan_type"`
	RateLimit *struct {
		PrimaryWindow   *whamWindow `json:"primary_window"`
		SecondaryWindow *whamWindow `json:"secondary_window"`
	} `json:"rate_limit"`
	Credits *struct {
		HasCredits bool `json:"has_credits"`
		Unlimited  bool `json:"unlimited"`

		// Balance arrives as a number or a numeric string.
		Balance any `json:"balance"`
	} `json:"credits"`
}
