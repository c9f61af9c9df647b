package tradovate

// accessTokenRequest mirrors the /auth/accesstokenrequest schema.
type accessTokenRequest struct {
	Name       string `json:"name"`
	Password   string `json:"password"`
	AppID      string `json:"appId,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	CID        string `json:"cid,omitempty"`
	Sec        string `json:"sec,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
}

type accessTokenResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	UserID         int64  `json:"userId"`
	Name           string `json:"name"`
}

type accountDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	Archived bool   `json:"archived"`
}

// cashBalanceDTO is the subset of the cash balance snapshot the core
// depends on.
type cashBalanceDTO struct {
	TotalCashValue      float64 `json:"totalCashValue"`
	NetLiq              float64 `json:"netLiq"`
	InitialMargin       float64 `json:"initialMargin"`
	TotalPnL            float64 `json:"totalPnL"`
	AvailableForTrading float64 `json:"availableForTrading"`
	RealizedPnL         float64 `json:"realizedPnL"`
	WeekRealizedPnL     float64 `json:"weekRealizedPnL"`
}

type positionDTO struct {
	ID         int64   `json:"id"`
	AccountID  int64   `json:"accountId"`
	ContractID int64   `json:"contractId"`
	Symbol     string  `json:"symbol"`
	NetPos     int     `json:"netPos"`
	NetPrice   float64 `json:"netPrice"`
	OpenPnL    float64 `json:"openPnL"`
}
