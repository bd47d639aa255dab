package nodes

import (
	"reflect"
	"strings"

	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/riskflow/types"
	"github.com/warriorguo/riskflow/utils"
)

// countryCodes upper-cases codes and drops blanks and duplicates.
func countryCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out = append(out, c)
		}
	}
	return utils.UniqueSlice(out)
}

// decodeConfig fills out with its `default` tags, then overrides every
// field whose json name appears in cfg through the types.Data getters.
// Values that are null or cannot be coerced keep the default.
func decodeConfig(cfg types.Data, out any) {
	defaults.SetDefaults(out)

	v := reflect.ValueOf(out).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := strings.Split(field.Tag.Get("json"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		if !assign(cfg, key, v.Field(i)) {
			if raw, exists := cfg.Get(key); exists && raw != nil {
				log.Debugf("ignore node config %s=%v", key, raw)
			}
		}
	}
}

// assign reports whether cfg[key] was set on f.
func assign(cfg types.Data, key string, f reflect.Value) bool {
	switch f.Kind() {
	case reflect.String:
		s, ok := cfg.GetString(key)
		if ok {
			f.SetString(s)
		}
		return ok
	case reflect.Bool:
		b, ok := cfg.GetBool(key)
		if ok {
			f.SetBool(b)
		}
		return ok
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, ok := cfg.GetInt64(key)
		if ok {
			f.SetInt(n)
		}
		return ok
	case reflect.Float32, reflect.Float64:
		n, ok := cfg.GetNumber(key)
		if ok {
			f.SetFloat(n)
		}
		return ok
	case reflect.Slice:
		switch f.Type().Elem().Kind() {
		case reflect.String:
			s, ok := cfg.GetStringSlice(key)
			if ok {
				f.Set(reflect.ValueOf(s))
			}
			return ok
		case reflect.Int:
			s, ok := cfg.GetIntSlice(key)
			if ok {
				f.Set(reflect.ValueOf(s))
			}
			return ok
		}
	}
	return false
}
