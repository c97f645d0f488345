package main

import (
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sznuper/overwatch/internal/config"
)

// registerOptionFlags adds a persistent --flag for every field in config.Options,
// deriving the flag name from the yaml struct tag (snake_case → kebab-case).
// Each flag is bound into viper so OVERWATCH_<TAG> works as well.
func registerOptionFlags(cmd *cobra.Command) {
	t := reflect.TypeOf(config.Options{})
	flags := cmd.PersistentFlags()
	for i := range t.NumField() {
		yamlTag := t.Field(i).Tag.Get("yaml")
		flagName := strings.ReplaceAll(yamlTag, "_", "-")
		usage := "override options." + yamlTag
		switch t.Field(i).Type.Kind() {
		case reflect.Int:
			flags.Int(flagName, 0, usage)
		case reflect.Slice:
			flags.StringSlice(flagName, nil, usage)
		default:
			flags.String(flagName, "", usage)
		}
		_ = viper.BindPFlag(flagName, flags.Lookup(flagName))
	}
}

// optionOverrides overlays explicitly set flags and environment variables
// onto the options read from the config file.
func optionOverrides() []config.Override {
	return []config.Override{func(o *config.Options) {
		t := reflect.TypeOf(*o)
		v := reflect.ValueOf(o).Elem()
		for i := range t.NumField() {
			flagName := strings.ReplaceAll(t.Field(i).Tag.Get("yaml"), "_", "-")
			if !viper.IsSet(flagName) {
				continue
			}
			switch f := v.Field(i); f.Kind() {
			case reflect.Int:
				f.SetInt(int64(viper.GetInt(flagName)))
			case reflect.Slice:
				f.Set(reflect.ValueOf(viper.GetStringSlice(flagName)))
			default:
				f.SetString(viper.GetString(flagName))
			}
		}
	}}
}
