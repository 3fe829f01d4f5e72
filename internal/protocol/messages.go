package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	CityID          string     `json:"city_id"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	TickRateHz      int        `json:"tick_rate_hz"`
	TilesDigest     string     `json:"tiles_digest"`
	Tiles           []TileInfo `json:"tiles"`
}

// TileInfo is the catalog entry a renderer needs.
type TileInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Glyph     string `json:"glyph,omitempty"`
	Cost      *int   `json:"cost,omitempty"`
	Buildable bool   `json:"buildable"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Command         string `json:"command"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	TileID          string `json:"tile_id,omitempty"`
	Seed            *int64 `json:"seed,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id"`
	OK              bool    `json:"ok"`
	Code            string  `json:"code,omitempty"`
	Message         string  `json:"message,omitempty"`
	Budget          float64 `json:"budget"`
	Tick            uint64  `json:"tick"`
}

// STATE (server -> client), one per tick.
type StateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	CityID          string      `json:"city_id"`
	Tick            uint64      `json:"tick"`
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	Tiles           []TileState `json:"tiles"`
	Metrics         Metrics     `json:"metrics"`
}

type TileState struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Type       string  `json:"type"`
	Population int     `json:"population"`
	TileValue  float64 `json:"tile_value"`
	Pollution  float64 `json:"pollution"`
	RoadAccess bool    `json:"road_access"`
	Struggling bool    `json:"struggling,omitempty"`
	Developing bool    `json:"developing,omitempty"`
}

type Metrics struct {
	Budget         float64 `json:"budget"`
	Population     int     `json:"population"`
	EmploymentRate float64 `json:"employment_rate"`
	Satisfaction   float64 `json:"satisfaction"`
	LastTaxes      float64 `json:"last_taxes"`
	LastCosts      float64 `json:"last_costs"`
	LastNet        float64 `json:"last_net"`
}
