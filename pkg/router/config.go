package router

import "encoding/json"

// TargetConfig names one logical remote endpoint: where to dial and which
// credential to present.
type TargetConfig struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// RouteConfig maps platform identifiers to targets. The platform string in
// an outbound message's info selects the target it is routed to.
type RouteConfig struct {
	Routes map[string]TargetConfig `json:"route_config"`
}

// ParseRouteConfig reads a RouteConfig from its JSON form.
func ParseRouteConfig(data []byte) (RouteConfig, error) {
	var cfg RouteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RouteConfig{}, err
	}
	if cfg.Routes == nil {
		cfg.Routes = make(map[string]TargetConfig)
	}
	return cfg, nil
}

// Marshal renders the config back to JSON.
func (c RouteConfig) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
