package api

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Address string `json:"address" binding:"required"`
	Chain   string `json:"chain"`
	Depth   string `json:"depth"`
	Tier    string `json:"tier"`
	Fresh   bool   `json:"fresh"`
}
