package openai

type costsResponse struct {
	Data     []costBucket `json:"data"`
	HasMore  bool         `json:"has_more"`
	NextPage string       `json:"next_page"`
}

type costBucket struct {
	StartTime int64        `json:"start_time"`
	EndTime   int64        `json:"end_time"`
	Results   []costResult `json:"results"`
}

type costResult struct {
	Amount costAmount `json:"amount"`
}

type costAmount struct {
	// Value is a float in practice but has been seen as a string.
	Value    any    `json:"value"`
	Currency string `json:"currency"`
}
