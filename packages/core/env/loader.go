package env

import (
	"os"
	"strings"
)

// VarPrefix marks OS environment entries that become suite variables.
const VarPrefix = "SPECRUN_VAR_"

// Defaults assembles the read-only variable layer. Later sources win;
// a non-empty base URL or token is always visible as baseUrl and token.
func Defaults(baseURL, token string, sources ...map[string]any) map[string]any {
	result := MergeVariables(sources...)
	if baseURL != "" {
		result["baseUrl"] = baseURL
	}
	if token != "" {
		result["token"] = token
	}
	return result
}

func MergeVariables(sources ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, src := range sources {
		for k, v := range src {
			result[k] = v
		}
	}
	return result
}

// StringVars widens a string map, e.g. dotenv entries, into a variable source.
func StringVars(vars map[string]string) map[string]any {
	result := make(map[string]any, len(vars))
	for k, v := range vars {
		result[k] = v
	}
	return result
}

// LoadSystemEnv returns OS environment entries whose key starts with prefix,
// keyed by the remainder. An empty prefix returns everything.
func LoadSystemEnv(prefix string) map[string]any {
	result := make(map[string]any)
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if prefix == "" {
			result[key] = value
		} else if name, found := strings.CutPrefix(key, prefix); found && name != "" {
			result[name] = value
		}
	}
	return result
}
