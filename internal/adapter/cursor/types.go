package cursor

// Amounts are cents; the backend sends them as numbers or numeric strings.
type centsUsage struct {
	Used             any `json:"used"`
	Limit            any `json:"limit"`
	TotalPercentUsed any `json:"totalPercentUsed"`
}

type usageSummary struct {
	BillingCycleEnd string `json:"billingCycleEnd"`
	MembershipType  string `json:"membershipType"`
	IndividualUsage *struct {
		Plan     *centsUsage `json:"plan"`
		OnDemand *centsUsage `json:"onDemand"`
	} `json:"individualUsage"`
}

type authMe struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Sub   string `json:"sub"`
}

type modelRequests struct {
	NumRequests      any `json:"numRequests"`
	NumRequestsTotal any `json:"numRequestsTotal"`
	MaxRequestUsage  any `json:"maxRequestUsage"`
}

type requestUsage struct {
	GPT4 *modelRequests `json:"gpt-4"`
}
