// ABOUTME: Static step table for the powerplay workflow, keyed by platform and step number
// ABOUTME: Each entry is data: prompt builder, patch-key mapping, promo label, prerequisites

package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultPlatform is assumed when a step request names no platform.
const DefaultPlatform = "pinterest"

// StepKey identifies one configured workflow step.
type StepKey struct {
	Platform string
	Step     int
}

// StepSpec is one step-table entry. Entries are data, not code branches:
// adding a step or platform means adding an entry, not touching dispatch.
type StepSpec struct {
	// Name is the workflow field namespace this step fills (niche, affiliate, ...).
	Name string

	// Promo labels which prompt template produced the generation result.
	Promo string

	// Requires lists dotted paths that must hold content in the accumulated
	// state before the step may run. Each path is produced by an earlier step.
	Requires []string

	// BuildPrompt derives the full generation prompt from accumulated state.
	BuildPrompt func(state map[string]any) string

	// PatchKeys maps the parsed generation output to a flat set of
	// dotted-path field updates for a single merge-patch write.
	PatchKeys func(parsed map[string]any) map[string]any
}

// Steps returns the built-in step table. Step 1 is the creation call and has
// no entry; configured steps start at 2.
func Steps() map[StepKey]StepSpec {
	return map[StepKey]StepSpec{
		{DefaultPlatform, 2}: {
			Name:        "niche",
			Promo:       "powerplay-niche",
			Requires:    []string{"topic"},
			BuildPrompt: nichePrompt,
			PatchKeys:   prefixPatch(DefaultPlatform, "niche"),
		},
		{DefaultPlatform, 3}: {
			Name:        "affiliate",
			Promo:       "powerplay-affiliate",
			Requires:    []string{"topic", "pinterest.niche"},
			BuildPrompt: affiliatePrompt,
			PatchKeys:   prefixPatch(DefaultPlatform, "affiliate"),
		},
		{DefaultPlatform, 4}: {
			Name:        "board",
			Promo:       "powerplay-boards",
			Requires:    []string{"topic", "pinterest.niche"},
			BuildPrompt: boardsPrompt,
			PatchKeys:   prefixPatch(DefaultPlatform, "board"),
		},
		{DefaultPlatform, 5}: {
			Name:        "pins",
			Promo:       "powerplay-pins",
			Requires:    []string{"topic", "pinterest.board"},
			BuildPrompt: pinsPrompt,
			PatchKeys:   prefixPatch(DefaultPlatform, "pins"),
		},
		{DefaultPlatform, 6}: {
			Name:        "resources",
			Promo:       "powerplay-resources",
			Requires:    []string{"topic", "pinterest.niche"},
			BuildPrompt: resourcesPrompt,
			PatchKeys:   prefixPatch(DefaultPlatform, "resources"),
		},
	}
}

// prefixPatch maps every parsed output key into the platform namespace for
// the given step field, e.g. niche1 -> pinterest.niche.niche1.
func prefixPatch(platform, namespace string) func(map[string]any) map[string]any {
	return func(parsed map[string]any) map[string]any {
		fields := make(map[string]any, len(parsed))
		for key, value := range parsed {
			fields[platform+"."+namespace+"."+key] = value
		}
		return fields
	}
}

func nichePrompt(state map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a Pinterest growth strategist. The account topic is %q", stringAt(state, "topic"))
	if business := stringAt(state, "businessName"); business != "" {
		fmt.Fprintf(&b, " for the business %q", business)
	}
	if style := stringAt(state, "style"); style != "" {
		fmt.Fprintf(&b, " with a %q style", style)
	}
	b.WriteString(". Identify the five most promising sub-niches to target. ")
	b.WriteString(`Respond with only a JSON object of the form {"niche1": "...", "niche2": "...", "niche3": "...", "niche4": "...", "niche5": "..."}.`)
	return b.String()
}

func affiliatePrompt(state map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The Pinterest account about %q targets these sub-niches: %s. ",
		stringAt(state, "topic"), strings.Join(namespaceValues(state, "pinterest.niche"), "; "))
	b.WriteString("Suggest five affiliate products worth promoting across them. ")
	b.WriteString(`Respond with only a JSON object of the form {"product1": "...", "product2": "...", "product3": "...", "product4": "...", "product5": "..."}.`)
	return b.String()
}

func boardsPrompt(state map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The Pinterest account about %q targets these sub-niches: %s. ",
		stringAt(state, "topic"), strings.Join(namespaceValues(state, "pinterest.niche"), "; "))
	b.WriteString("Propose ten board titles that cover the niches without overlapping. ")
	b.WriteString(`Respond with only a JSON object of the form {"board1": "...", ..., "board10": "..."}.`)
	return b.String()
}

func pinsPrompt(state map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The Pinterest account about %q publishes to these boards: %s. ",
		stringAt(state, "topic"), strings.Join(namespaceValues(state, "pinterest.board"), "; "))
	b.WriteString("Plan one month of daily pins: for each day, list pin ideas naming the board each belongs to. ")
	b.WriteString(`Respond with only a JSON object of the form {"day1": ["..."], "day2": ["..."], ..., "day31": ["..."]}.`)
	return b.String()
}

func resourcesPrompt(state map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The Pinterest account about %q targets these sub-niches: %s. ",
		stringAt(state, "topic"), strings.Join(namespaceValues(state, "pinterest.niche"), "; "))
	b.WriteString("List five resources (tools, templates, or guides) the account owner should use. ")
	b.WriteString(`Respond with only a JSON object of the form {"resource1": "...", ..., "resource5": "..."}.`)
	return b.String()
}

// stringAt returns the trimmed string at a dotted path, or "".
func stringAt(state map[string]any, path string) string {
	value, ok := lookupPath(state, path)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return strings.TrimSpace(s)
}

// namespaceValues returns the non-empty string leaves of the map at a dotted
// path, ordered by key so prompts are stable.
func namespaceValues(state map[string]any, path string) []string {
	value, ok := lookupPath(state, path)
	if !ok {
		return nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var values []string
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			values = append(values, s)
		}
	}
	return values
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(state map[string]any, path string) (any, bool) {
	current := any(state)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// hasContent reports whether a prerequisite value actually holds data. The
// creation call pre-populates empty skeleton namespaces, so mere presence of
// a map is not enough.
func hasContent(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case map[string]any:
		for _, item := range v {
			if hasContent(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if hasContent(item) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
