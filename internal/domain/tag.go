package domain

import "strings"

// NormalizeTag converts a raw clan or player tag to its canonical form:
// trimmed, uppercase, '#'-prefixed, with the letter O mapped to zero (the
// upstream tag alphabet has no O, but user input often confuses the two).
// All tag comparisons in the pipeline happen on this form.
func NormalizeTag(raw string) string {
	tag := strings.ToUpper(strings.TrimSpace(raw))
	tag = strings.TrimPrefix(tag, "#")
	tag = strings.ReplaceAll(tag, "O", "0")
	if tag == "" {
		return ""
	}
	return "#" + tag
}

// HeroField builds the delta-map key for a hero, e.g. "Barbarian King" ->
// "hero_barbarian_king".
func HeroField(heroName string) string {
	slug := strings.ToLower(strings.TrimSpace(heroName))
	slug = strings.ReplaceAll(slug, " ", "_")
	return HeroFieldPrefix + slug
}
