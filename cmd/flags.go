package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags binds each flag of fs named in keys to its configuration key,
// so a flag given on the command line overrides file and environment.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
