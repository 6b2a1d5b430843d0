package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ApplyConfig holds settings for the apply command.
type ApplyConfig struct {
	In       string
	RawLogs  string
	PGDSN    string
	Protocol string

	// Revenue split fractions of interest revenue.
	SupplyShare   float64
	ProtocolShare float64
	StakeShare    float64
	// LiquidationRevenue selects the attribution convention for
	// liquidation-sourced revenue: "subtract" or "additive".
	LiquidationRevenue string

	// Prices maps token address to a fixed USD price.
	Prices map[string]string

	StateFile  string
	SaveEvery  int
	ScanOffset int
	LogLevel   string
}

// LoadApply merges config file, environment, and flags into ApplyConfig.
func LoadApply(cfgFile string, flags *pflag.FlagSet) (ApplyConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"protocol":            "aave-v3",
		"supply-share":        0.9,
		"protocol-share":      0.1,
		"stake-share":         0.0,
		"liquidation-revenue": "subtract",
		"save-every":          1000,
		"scan-offset":         10,
		"log-level":           "info",
	})
	if err != nil {
		return ApplyConfig{}, err
	}

	return ApplyConfig{
		In:                 v.GetString("in"),
		RawLogs:            v.GetString("raw-logs"),
		PGDSN:              v.GetString("pg-dsn"),
		Protocol:           v.GetString("protocol"),
		SupplyShare:        v.GetFloat64("supply-share"),
		ProtocolShare:      v.GetFloat64("protocol-share"),
		StakeShare:         v.GetFloat64("stake-share"),
		LiquidationRevenue: v.GetString("liquidation-revenue"),
		Prices:             getStringMap(v, "prices"),
		StateFile:          v.GetString("state-file"),
		SaveEvery:          v.GetInt("save-every"),
		ScanOffset:         v.GetInt("scan-offset"),
		LogLevel:           v.GetString("log-level"),
	}, nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
