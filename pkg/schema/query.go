package schema

// Query is the wire form of a view request, shared by the HTTP query string,
// the TCP protocol and the SDK. Empty fields mean "no filter" or "default".
type Query struct {
	ID       string `json:"id,omitempty" form:"id"`
	Exact    bool   `json:"exact,omitempty" form:"exact"`
	ReadOnly *bool  `json:"read_only,omitempty" form:"read_only"`
	Sort     string `json:"sort,omitempty" form:"sort"`
	Order    string `json:"order,omitempty" form:"order" binding:"omitempty,oneof=asc desc ASC DESC"`
	Skip     int    `json:"skip,omitempty" form:"skip" binding:"min=0"`
	Limit    int    `json:"limit,omitempty" form:"limit" binding:"min=0,max=1000"`
}
