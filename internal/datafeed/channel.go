package datafeed

import (
	"fmt"
	"strconv"
	"strings"
)

// chainIDs maps the network segment of a ticker to its chain id.
var chainIDs = map[string]int{
	"eth":       1,
	"bsc":       56,
	"canto":     7700,
	"base":      8453,
	"graphlinq": 614,
	"avalance":  43114,
	"arbitrum":  42161,
	"polygon":   137,
}

// ChainID looks up the chain id for a network name.
func ChainID(network string) (int, bool) {
	id, ok := chainIDs[network]
	return id, ok
}

// Networks returns the known network names.
func Networks() []string {
	out := make([]string, 0, len(chainIDs))
	for n := range chainIDs {
		out = append(out, n)
	}
	return out
}

// channelCurrency is the currency marker embedded in channel ids.
const channelCurrency = "S"

// Ticker is a parsed "<tokenAddress>-<network>_<rest>" symbol.
type Ticker struct {
	TokenAddress string
	Network      string
	Rest         string
}

// ParseTicker splits a composite ticker. The token address is everything
// before the first '-', the network everything between it and the next '_'.
func ParseTicker(s string) (Ticker, error) {
	token, tail, ok := strings.Cut(s, "-")
	if !ok || token == "" || tail == "" {
		return Ticker{}, newError(CodeValidation, fmt.Sprintf("ticker %q is not <token>-<network>_<quote>", s), nil)
	}
	network, rest, _ := strings.Cut(tail, "_")
	if network == "" {
		return Ticker{}, newError(CodeValidation, fmt.Sprintf("ticker %q has no network", s), nil)
	}
	return Ticker{TokenAddress: token, Network: network, Rest: rest}, nil
}

// IntervalSeconds converts a resolution into the channel interval. Numeric
// resolutions are minutes; D/W/M suffixes are days, weeks and months (30d).
func IntervalSeconds(resolution string) (int, error) {
	r := strings.ToUpper(strings.TrimSpace(resolution))
	if r == "" {
		return 0, newError(CodeValidation, "resolution is required", nil)
	}

	unit := 60
	switch suffix := r[len(r)-1]; suffix {
	case 'D':
		unit = 86400
	case 'W':
		unit = 7 * 86400
	case 'M':
		unit = 30 * 86400
	}
	if unit != 60 {
		r = r[:len(r)-1]
		if r == "" {
			r = "1"
		}
	}

	n, err := strconv.Atoi(r)
	if err != nil || n <= 0 {
		return 0, newError(CodeValidation, fmt.Sprintf("resolution %q is not a bar size", resolution), err)
	}
	return n * unit, nil
}

// ChannelID composes the live-data channel id for ticker at resolution.
func ChannelID(ticker, resolution string) (string, error) {
	t, err := ParseTicker(ticker)
	if err != nil {
		return "", err
	}
	chainID, ok := ChainID(t.Network)
	if !ok {
		return "", newError(CodeUnknownNetwork, fmt.Sprintf("unknown network %q", t.Network), nil)
	}
	interval, err := IntervalSeconds(resolution)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RoundedCandle.id-%s-%d-%d-all-%s", channelCurrency, interval, chainID, t.TokenAddress), nil
}
