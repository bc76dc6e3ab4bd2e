package util

import (
	"os"
	"strings"
)

const EnvironmentPrefix = "TRAVIGO_"

// GetEnvironmentVariables returns the TRAVIGO_ prefixed variables of the process
func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		name, value, found := strings.Cut(variable, "=")
		if !found || !strings.HasPrefix(name, EnvironmentPrefix) {
			continue
		}

		environmentVariables[name] = value
	}

	return environmentVariables
}
