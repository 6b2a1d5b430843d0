package config

import "github.com/spf13/pflag"

// DecodeConfig holds settings for the decode command.
type DecodeConfig struct {
	RPCURL string
	In     string
	Out    string
	Errors string
	// Reserves maps reserve address to "atoken:vdebttoken", the position
	// tokens whose balanceOf is the authoritative position balance.
	Reserves     map[string]string
	WithBalances bool
	LogLevel     string
}

// LoadDecode merges config file, environment, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"out":           "./data/events.jsonl",
		"errors":        "./data/decode_errors.jsonl",
		"with-balances": true,
		"log-level":     "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	return DecodeConfig{
		RPCURL:       v.GetString("rpc"),
		In:           v.GetString("in"),
		Out:          v.GetString("out"),
		Errors:       v.GetString("errors"),
		Reserves:     getStringMap(v, "reserves"),
		WithBalances: v.GetBool("with-balances"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}
