package domain

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// DefaultICEServers is used when neither the settings file nor the ICE
// config endpoint provide servers.
var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}
