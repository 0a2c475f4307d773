package types

// Configuration is what the widget reads on ready. Values are created once
// and only ever handed out by copy.
type Configuration struct {
	SupportedResolutions   []string `json:"supported_resolutions"`
	SupportsSearch         bool     `json:"supports_search"`
	SupportsGroupRequest   bool     `json:"supports_group_request"`
	SupportsMarks          bool     `json:"supports_marks"`
	SupportsTimescaleMarks bool     `json:"supports_timescale_marks"`
	SupportsTime           bool     `json:"supports_time"`
}

// Clone returns a copy that shares no backing storage with c.
func (c Configuration) Clone() Configuration {
	out := c
	out.SupportedResolutions = append([]string(nil), c.SupportedResolutions...)
	return out
}

// SupportsResolution reports whether res is one of the configured resolutions.
func (c Configuration) SupportsResolution(res string) bool {
	for _, r := range c.SupportedResolutions {
		if r == res {
			return true
		}
	}
	return false
}
