package config

import (
	"fmt"
	"strings"
)

// Gateway names one remote agent gateway reachable over the framed
// WebSocket protocol.
type Gateway struct {
	Name                 string `hcl:"name,label"`
	URL                  string `hcl:"url"`
	Token                string `hcl:"token,optional"`
	SessionKey           string `hcl:"session_key,optional"`
	CFAccessClientID     string `hcl:"cf_access_client_id,optional"`
	CFAccessClientSecret string `hcl:"cf_access_client_secret,optional"`
}

func (g *Gateway) Validate() error {
	if g.URL == "" {
		return fmt.Errorf("Missing url; Gateway '%s' must set url", g.Name)
	}
	ok := false
	for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
		if strings.HasPrefix(g.URL, scheme) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("Invalid url; Gateway '%s' url must start with ws://, wss://, http:// or https://", g.Name)
	}
	if (g.CFAccessClientID == "") != (g.CFAccessClientSecret == "") {
		return fmt.Errorf("Incomplete access credentials; Gateway '%s' must set both cf_access_client_id and cf_access_client_secret or neither", g.Name)
	}
	return nil
}
