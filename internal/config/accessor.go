package config

import (
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// setting is one leaf of Config addressable by a dot path.
type setting struct {
	index []int
	typ   reflect.Type
}

var settings = collectSettings(reflect.TypeOf(Config{}), "", nil)

func collectSettings(t reflect.Type, prefix string, index []int) map[string]setting {
	out := make(map[string]setting)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := jsonName(f)
		if name == "-" || !f.IsExported() {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		idx := append(slices.Clone(index), i)
		if f.Type.Kind() == reflect.Struct {
			for p, s := range collectSettings(f.Type, path, idx) {
				out[p] = s
			}
			continue
		}
		out[path] = setting{index: idx, typ: f.Type}
	}
	return out
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// normalizers rewrite raw values for paths whose text form is looser than
// the stored one. They run before type coercion.
var normalizers = map[string]func(string) (string, error){
	"general.logLevel":             oneOf("debug", "info", "warn", "error"),
	"assistant.thinkingDelayMs":    wholeUnits(time.Millisecond, "milliseconds"),
	"assistant.sessionIdleMinutes": wholeUnits(time.Minute, "minutes"),
	"voice.input.provider":         oneOf("none", "whisper"),
	"voice.output.provider":        oneOf("none", "openai", "elevenlabs"),
	"voice.output.preferredLang":   languageTag,
}

func oneOf(allowed ...string) func(string) (string, error) {
	return func(v string) (string, error) {
		v = strings.ToLower(v)
		if !slices.Contains(allowed, v) {
			return "", fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
		}
		return v, nil
	}
}

// wholeUnits accepts a bare integer or a Go duration such as "1.5s" or "2h".
func wholeUnits(unit time.Duration, name string) func(string) (string, error) {
	return func(v string) (string, error) {
		if _, err := strconv.Atoi(v); err == nil {
			return v, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return "", fmt.Errorf("want a whole number of %s or a duration like 1.5s", name)
		}
		if d%unit != 0 {
			return "", fmt.Errorf("%s is not a whole number of %s", d, name)
		}
		return strconv.FormatInt(int64(d/unit), 10), nil
	}
}

// languageTag canonicalises "en_us" or "EN-us" to "en-US".
func languageTag(v string) (string, error) {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return "", fmt.Errorf("empty language tag")
	}
	parts[0] = strings.ToLower(parts[0])
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) == 2 {
			parts[i] = strings.ToUpper(parts[i])
		}
	}
	return strings.Join(parts, "-"), nil
}

// GetByPath returns the value at a dot path such as "voice.output.rate".
// A section path ("voice.output") returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v := reflect.ValueOf(cfg).Elem()
	for _, key := range strings.Split(path, ".") {
		switch v.Kind() {
		case reflect.Struct:
			next, ok := fieldByJSONName(v, key)
			if !ok {
				return nil, fmt.Errorf("unknown config path: %s", path)
			}
			v = next
		case reflect.Slice:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= v.Len() {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			v = v.Index(i)
		default:
			return nil, fmt.Errorf("unknown config path: %s", path)
		}
	}
	return v.Interface(), nil
}

func fieldByJSONName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() && jsonName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// SetByPath parses value according to the type of the leaf at path and
// stores it. Unknown paths and sections are rejected; lists take a comma
// separated value. Range checks are left to Validate.
func SetByPath(cfg *Config, path, value string) error {
	s, ok := settings[path]
	if !ok {
		if isSection(path) {
			return fmt.Errorf("%s is a section, set one of its keys instead", path)
		}
		return fmt.Errorf("unknown config path: %s (see 'lumos config list')", path)
	}

	value = strings.TrimSpace(value)
	if norm, ok := normalizers[path]; ok {
		v, err := norm(value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		value = v
	}

	parsed, err := coerce(s.typ, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	reflect.ValueOf(cfg).Elem().FieldByIndex(s.index).Set(parsed)
	return nil
}

func isSection(path string) bool {
	for p := range settings {
		if strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

func coerce(t reflect.Type, value string) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		out.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return out, fmt.Errorf("want an integer, got %q", value)
		}
		out.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return out, fmt.Errorf("want a number, got %q", value)
		}
		out.SetFloat(f)
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			return out, fmt.Errorf("cannot set a list of %s", t.Elem())
		}
		out = reflect.MakeSlice(t, 0, 0)
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = reflect.Append(out, reflect.ValueOf(item))
			}
		}
	default:
		return out, fmt.Errorf("cannot set a value of type %s", t)
	}
	return out, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("want true or false, got %q", v)
	}
	return b, nil
}

// Sanitize returns a copy of cfg with credentials masked: API keys, the bot
// token, and any password embedded in a provider or site URL.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Voice.Input.APIKey = maskString(c.Voice.Input.APIKey)
	c.Voice.Output.APIKey = maskString(c.Voice.Output.APIKey)
	c.Channels.Telegram.Token = maskString(c.Channels.Telegram.Token)
	c.Voice.Input.APIBase = maskURL(c.Voice.Input.APIBase)
	c.Voice.Output.APIBase = maskURL(c.Voice.Output.APIBase)
	c.Channels.Telegram.SiteURL = maskURL(c.Channels.Telegram.SiteURL)
	return &c
}

func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// ListPaths returns every settable path with its current value, including
// keys that are empty and omitted from the saved file.
func ListPaths(cfg *Config) map[string]any {
	v := reflect.ValueOf(cfg).Elem()
	out := make(map[string]any, len(settings))
	for path, s := range settings {
		out[path] = v.FieldByIndex(s.index).Interface()
	}
	return out
}
