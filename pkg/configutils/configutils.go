package configutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ImportKey is the config value we look for that denotes a file to import when
// resolving the configuration.
var ImportKey = "imports"

// ResolveAndMergeFile will read the configuration file provided, resolve all
// imports from that configuration file, and then merge the resulting configs
// into the provided viper. Imported files are merged first so the importing
// file wins on conflicts.
func ResolveAndMergeFile(v *viper.Viper, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	if ext == "" {
		return errors.New("configuration file has no extension")
	}
	if !sets.New(viper.SupportedExts...).Has(ext) {
		return fmt.Errorf("unsupported configuration file extension: .%s", ext)
	}

	v.SetConfigType(ext)
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	if err := resolveAllImports(v); err != nil {
		return fmt.Errorf("could not resolve configuration imports: %w", err)
	}

	return nil
}

// resolveImports walks the import graph depth first. visited is filled in
// pre-order to break cycles, configs in post-order so children merge first.
func resolveImports(v *viper.Viper, configs *[]string, visited sets.Set[string]) error {
	for _, i := range v.GetStringSlice(ImportKey) {
		if i == "" {
			continue
		}

		path := filepath.Clean(i)
		if !filepath.IsAbs(i) {
			path = filepath.Join(filepath.Dir(v.ConfigFileUsed()), i)
		}

		if _, err := os.Stat(path); err != nil {
			return err
		}

		if visited.Has(path) {
			continue
		}
		visited.Insert(path)

		child := viper.New()
		child.SetConfigFile(path)
		if err := child.ReadInConfig(); err != nil {
			return err
		}

		if err := resolveImports(child, configs, visited); err != nil {
			return err
		}

		*configs = append(*configs, path)
	}

	return nil
}

func resolveAllImports(v *viper.Viper) error {
	var configs []string
	if err := resolveImports(v, &configs, sets.New[string]()); err != nil {
		return err
	}

	configs = append(configs, v.ConfigFileUsed())
	for _, configFilePath := range configs {
		if err := mergeConfigFile(v, configFilePath); err != nil {
			return fmt.Errorf("merging config %s: %w", configFilePath, err)
		}
	}

	return nil
}

func mergeConfigFile(v *viper.Viper, filePath string) error {
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}

	defer func() { _ = r.Close() }()
	return v.MergeConfig(r)
}

// BindEnvsRecursive binds every mapstructure-tagged field of iface (a pointer
// to struct) so that Unmarshal sees environment overrides even for keys that
// are absent from the config file.
func BindEnvsRecursive(v *viper.Viper, iface interface{}, path string) error {
	val := reflect.ValueOf(iface).Elem()
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		fieldType := typ.Field(i)
		tag := strings.Split(fieldType.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		fullPath := tag
		if path != "" {
			fullPath = path + "." + tag
		}

		field := val.Field(i)
		if field.Kind() == reflect.Ptr {
			if field.IsNil() && field.Type().Elem().Kind() == reflect.Struct {
				field.Set(reflect.New(field.Type().Elem()))
			}
			field = field.Elem()
		}

		if field.Kind() == reflect.Struct {
			if err := BindEnvsRecursive(v, field.Addr().Interface(), fullPath); err != nil {
				return err
			}
			continue
		}

		if err := v.BindEnv(fullPath); err != nil {
			return fmt.Errorf("failed to bind environment variable: %w", err)
		}
	}

	return nil
}

// BindEnvAliases binds config keys to environment variables that don't follow
// the prefix convention, e.g. run_id to RUN_ID.
func BindEnvAliases(v *viper.Viper, aliases map[string]string) error {
	for key, env := range aliases {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("binding %s to %s: %w", key, env, err)
		}
	}
	return nil
}
