package config

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServers builds the pion server list from the configured URL lists.
// TURN entries require credentials; STUN entries must not carry any.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	return ParseICEServers(c.StunURLs, c.TurnURLs, c.TurnUsername, c.TurnCredential)
}

// ParseICEServers validates comma-separated STUN/TURN URL lists.
func ParseICEServers(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	stunList := splitCommaSeparated(stunURLs)
	turnList := splitCommaSeparated(turnURLs)

	var servers []webrtc.ICEServer
	if len(stunList) > 0 {
		for _, u := range stunList {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
				return nil, fmt.Errorf("stun_urls: %q is not a stun(s): URL", u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: stunList})
	}

	if len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("turn_urls: username and credential must both be set")
		}
		for _, u := range turnList {
			if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return nil, fmt.Errorf("turn_urls: %q is not a turn(s): URL", u)
			}
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnList,
			Username:   turnUsername,
			Credential: turnCredential,
		})
	}
	return servers, nil
}

func splitCommaSeparated(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
