package telemetry

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertsFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert string `yaml:"alert"`
			Expr  string `yaml:"expr"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

// TestAlertsFileValid verifies the Prometheus alerts only reference metrics
// this package exports.
func TestAlertsFileValid(t *testing.T) {
	alertsPath := "../../deploy/prometheus/alerts.yml"

	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
		return
	}

	var config alertsFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	if len(config.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}

	known := []string{
		"sanctuary_api_requests_total",
		"sanctuary_output_active_targets",
		"sanctuary_output_delivery_failures_total",
		"sanctuary_output_delivery_duration_seconds",
	}
	for _, group := range config.Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "" || rule.Expr == "" {
				t.Errorf("group %s has a rule without alert or expr", group.Name)
				continue
			}
			found := false
			for _, name := range known {
				if strings.Contains(rule.Expr, name) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("alert %s references no exported metric: %s", rule.Alert, rule.Expr)
			}
		}
	}
}
