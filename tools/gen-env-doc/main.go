//go:build ignore
// +build ignore

package main

import (
	"fmt"
	"os"
	"strings"

	cfg "github.com/gimlee/settlement/internal/config"
)

func main() {
	byGroup := make(map[string][]cfg.EnvVar)
	for _, s := range cfg.EnvSpecs() {
		byGroup[s.Group] = append(byGroup[s.Group], s)
	}

	var md strings.Builder
	md.WriteString("# Environment Variables\n\n" +
		"Generated from `config.EnvSpecs()`. **Do not edit manually.**\n\n" +
		"Every rail section applies to one settlement currency. A rail only needs its\n" +
		"RPC credentials when it is enabled.\n")

	for _, group := range cfg.EnvGroups() {
		specs := byGroup[group]
		if len(specs) == 0 {
			continue
		}
		fmt.Fprintf(&md, "\n## %s\n\n", group)
		md.WriteString("| Variable | Default | Type | Description |\n" +
			"|----------|---------|------|-------------|\n")
		for _, s := range specs {
			def := s.Default
			if def == "" {
				def = "-"
			}
			desc := s.Description
			if s.Notes != "" {
				desc += "<br/><em>" + s.Notes + "</em>"
			}
			fmt.Fprintf(&md, "| `%s` | `%s` | `%s` | %s |\n", s.FullName, def, s.Type, desc)
		}
	}

	if err := os.MkdirAll("../../docs", 0o755); err != nil {
		panic(err)
	}
	if err := os.WriteFile("../../docs/environment.md", []byte(md.String()), 0o644); err != nil {
		panic(err)
	}
}
