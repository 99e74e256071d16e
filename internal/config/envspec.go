package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
)

type EnvVar struct {
	Name        string // short name under the SETTLE_ prefix (e.g., "DATADIR")
	FullName    string // e.g., "SETTLE_DATADIR"
	Group       string // doc section, one of EnvGroups()
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
	Notes       string // extra constraints, e.g. when the variable is required
}

const (
	groupGeneral    = "General"
	groupPayments   = "Payments"
	groupRates      = "Exchange rates"
	groupVolatility = "Volatility"
	groupNotifier   = "Notifications"
)

// EnvGroups lists doc sections in render order, with one section per rail.
func EnvGroups() []string {
	groups := []string{groupGeneral, groupPayments}
	for _, rail := range rails() {
		groups = append(groups, railGroup(rail))
	}
	return append(groups, groupRates, groupVolatility, groupNotifier)
}

func rails() []domain.Currency {
	var list []domain.Currency
	for _, c := range domain.KnownCurrencies() {
		if c.IsRail() {
			list = append(list, c)
		}
	}
	return list
}

func railGroup(rail domain.Currency) string {
	return "Rail " + rail.String()
}

// envGroup files a variable under its rail or concern by name prefix.
func envGroup(name string) (group, notes string) {
	for _, rail := range rails() {
		prefix := rail.String() + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		switch strings.TrimPrefix(name, prefix) {
		case "RPC_URL", "RPC_USER", "RPC_PASSWORD":
			notes = "required when " + prefix + "ENABLED is true"
		}
		return railGroup(rail), notes
	}

	switch {
	case strings.HasPrefix(name, "MEMO_"), strings.HasPrefix(name, "PAYMENT_"),
		strings.HasPrefix(name, "HARD_TIMEOUT"):
		return groupPayments, ""
	case strings.HasPrefix(name, "RATE_"), strings.HasPrefix(name, "PRICE_"),
		name == "RETENTION_INTERVAL":
		return groupRates, ""
	case strings.HasPrefix(name, "VOLATILITY_"):
		if name == "VOLATILITY_STALE_AFTER" {
			notes = "defaults to twice RATE_FETCH_INTERVAL when unset"
		}
		return groupVolatility, notes
	case strings.HasPrefix(name, "NOTIFIER_"):
		if name == "NOTIFIER_WEBHOOK_URL" {
			notes = "required when NOTIFIER_TYPE is webhook"
		}
		return groupNotifier, notes
	case name == "POSTGRES_DSN":
		return groupGeneral, "required when DB_TYPE is postgres"
	}
	return groupGeneral, ""
}

// EnvSpecs lists every supported environment variable, in declaration order.
func EnvSpecs() []EnvVar {
	const P = envPrefix + "_"

	t := reflect.TypeOf(Config{})
	specs := make([]EnvVar, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Tag.Get("mapstructure")
		group, notes := envGroup(name)
		specs = append(specs, EnvVar{
			Name:        name,
			FullName:    P + name,
			Group:       group,
			Type:        envType(f.Type),
			Default:     f.Tag.Get("envDefault"),
			Description: f.Tag.Get("envInfo"),
			Notes:       notes,
		})
	}
	return specs
}

func envType(t reflect.Type) string {
	if t == reflect.TypeOf(time.Duration(0)) {
		return "duration (e.g., 30s, 1h)"
	}
	return t.Kind().String()
}

//go:generate go run ../../tools/gen-env-doc/main.go
