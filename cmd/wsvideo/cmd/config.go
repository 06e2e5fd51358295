package cmd

import (
	"fmt"
	"io"
	"reflect"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/wsvideo/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing wsvideo configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or WSVIDEO_ environment variables this prints the
defaults, which makes a usable template:

  wsvideo config dump > config.yaml

Environment variables use the WSVIDEO_ prefix and underscores for nesting.
Example: render.max_cache -> WSVIDEO_RENDER_MAX_CACHE`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

var (
	durationType = reflect.TypeFor[config.Duration]()
	byteSizeType = reflect.TypeFor[config.ByteSize]()
)

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes in their human readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch {
		case field.Type() == durationType, field.Type() == byteSizeType:
			result[key] = field.Interface().(fmt.Stringer).String()
		case field.Kind() == reflect.Struct:
			result[key] = toMap(field.Interface())
		default:
			result[key] = field.Interface()
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return writeConfig(cmd.OutOrStdout(), cfg)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# wsvideo configuration")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 500ms, 30s, 5m")
	fmt.Fprintln(w, "# Size format: 200KB, 5MB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides use the WSVIDEO_ prefix, e.g.")
	fmt.Fprintln(w, "#   WSVIDEO_PLAYER_CONNECT_LIMIT, WSVIDEO_RENDER_LIVE_MAX_LATENCY")
	fmt.Fprintln(w, "")
	_, err = w.Write(data)
	return err
}
