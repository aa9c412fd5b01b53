package model

// State is a tagged value tree exchanged with the server. At most one scalar
// tag is set; Map holds optional children, each optionally named.
type State struct {
	Name     string   `json:"name,omitempty"`
	Int      *int64   `json:"int,omitempty"`
	Long     *int64   `json:"long,omitempty"`
	Decimal  *float64 `json:"decimal,omitempty"`
	Double   *float64 `json:"double,omitempty"`
	String   *string  `json:"string,omitempty"`
	Boolean  *bool    `json:"boolean,omitempty"`
	Date     *string  `json:"date,omitempty"`
	Time     *string  `json:"time,omitempty"`
	DateTime *string  `json:"dateTime,omitempty"`
	Map      []*State `json:"map,omitempty"`
}
