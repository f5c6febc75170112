package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

type iceSource struct {
	ServersJSON    string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// parseICEServers builds the announced ICE list. The JSON form wins over the
// URL lists. With TURN REST enabled, TURN entries may omit credentials
// because they are minted per request.
func parseICEServers(src iceSource, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServerURLs(src.STUNURLs, src.TURNURLs, src.TURNUsername, src.TURNCredential, turnREST)
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts "urls" as a string or a list, as browsers do.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-style JSON array.
func ParseICEServersJSON(raw string, allowTURNWithoutCredentials bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		var urls []string
		for _, u := range server.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}

		ice := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			ice.Credential = server.Credential
		}
		if err := validateICEServer(ice, allowTURNWithoutCredentials); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, ice)
	}
	return out, nil
}

// ParseICEServerURLs builds an ICE list from comma-separated STUN and TURN
// URL lists sharing one TURN username and credential.
func ParseICEServerURLs(stunURLs, turnURLs, turnUsername, turnCredential string, allowTURNWithoutCredentials bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if list := splitCommaSeparated(stunURLs); len(list) > 0 {
		server := webrtc.ICEServer{URLs: list}
		if err := validateICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSTUNURLs, err)
		}
		servers = append(servers, server)
	}

	if list := splitCommaSeparated(turnURLs); len(list) > 0 {
		server := webrtc.ICEServer{
			URLs:     list,
			Username: strings.TrimSpace(turnUsername),
		}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		if !allowTURNWithoutCredentials && (server.Username == "" || server.Credential == nil) {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", EnvTURNUsername, EnvTURNCredential, EnvTURNURLs)
		}
		if err := validateICEServer(server, allowTURNWithoutCredentials); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTURNURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, allowTURNWithoutCredentials bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	turn := false
	for _, u := range server.URLs {
		switch scheme := iceScheme(u); scheme {
		case "stun", "stuns":
		case "turn", "turns":
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !turn || allowTURNWithoutCredentials {
		return nil
	}

	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

func iceScheme(u string) string {
	scheme, _, ok := strings.Cut(strings.TrimSpace(u), ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}
