package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inkwell/pkg/engines"
	"inkwell/pkg/providers"
	"inkwell/pkg/schema"
)

var enginesFlags struct {
	class   string
	typ     string
	style   string
	ratings []string
	topN    int
	all     bool
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Show which reference search providers an entity would use",
	Example: `  inkwell engines --class android --style sci-fi
  inkwell engines --type location --style fantasy --rating deviantart=-4 --all`,
	RunE: runEngines,
}

func init() {
	f := enginesCmd.Flags()
	f.StringVar(&enginesFlags.class, "class", "", "entity class from the ontology, such as human or android")
	f.StringVar(&enginesFlags.typ, "type", schema.EntityCharacter, "character or location")
	f.StringVar(&enginesFlags.style, "style", "fiction", "style category")
	f.StringSliceVar(&enginesFlags.ratings, "rating", nil, "provider=net score, repeatable")
	f.IntVar(&enginesFlags.topN, "top", 0, "number of providers to select (default 2)")
	f.BoolVar(&enginesFlags.all, "all", false, "treat every provider as available, keyed or not")
}

func parseRatings(in []string) (map[string]int, error) {
	out := make(map[string]int, len(in))
	for _, r := range in {
		name, score, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("rating %q: expected provider=score", r)
		}
		n, err := strconv.Atoi(strings.TrimSpace(score))
		if err != nil {
			return nil, fmt.Errorf("rating %q: %w", r, err)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out, nil
}

func runEngines(cmd *cobra.Command, _ []string) error {
	ratings, err := parseRatings(enginesFlags.ratings)
	if err != nil {
		return err
	}
	registry := providers.Default(cfg.ProviderKeys())
	available := registry.Available()
	if enginesFlags.all {
		available = registry.Names()
	}

	class, typ, style := enginesFlags.class, enginesFlags.typ, enginesFlags.style
	key, _ := engines.Lookup(class, typ, style)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "affinity: %s\n", key)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tBASE\tADJUSTED")
	for _, r := range engines.Rank(class, typ, style, available, ratings) {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\n", r.Provider, r.Base, r.Adjusted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "selected: %s\n", strings.Join(engines.Select(class, typ, style, available, ratings, enginesFlags.topN), ", "))
	return nil
}
