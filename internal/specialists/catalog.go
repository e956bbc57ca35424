// Package specialists defines the closed set of specialist domains the
// gateway can route a conversation to, plus the hints the classifier uses
// to pick between them.
package specialists

import "strings"

// Definition describes one routable specialist domain.
type Definition struct {
	Domain      string
	Label       string
	RoutingHint string
}

// Catalog lists every routable domain in classifier presentation order.
// general comes first so the classifier sees the fallback choice up front.
var Catalog = []Definition{
	{
		Domain: "general",
		Label:  "General Specialist",
		RoutingHint: "Use for broad requests, unclear intent, mixed topics, or anything that does not " +
			"clearly belong to another specialist.",
	},
	{
		Domain: "health",
		Label:  "Health Specialist",
		RoutingHint: "Physical or mental health, symptoms, rehabilitation, fitness, sleep, nutrition, " +
			"recovery, injury, medical-care planning.",
	},
	{
		Domain: "parenting",
		Label:  "Parenting Specialist",
		RoutingHint: "Parent-child challenges, discipline, routines, school behavior, communication " +
			"with children, age-appropriate parenting guidance.",
	},
	{
		Domain: "relationships",
		Label:  "Relationships Specialist",
		RoutingHint: "Couple/partner issues, communication conflicts, boundaries, trust, intimacy, " +
			"repairing and maintaining relationships.",
	},
	{
		Domain: "homelab",
		Label:  "Homelab Specialist",
		RoutingHint: "Homelab infrastructure, Proxmox, LXC, Docker, networking, server setup, backups, " +
			"automation, observability, rollback-safe ops.",
	},
	{
		Domain: "personal_development",
		Label:  "Personal Development Specialist",
		RoutingHint: "Habits, goals, productivity, planning, accountability, self-improvement, " +
			"learning and personal growth.",
	},
}

// Domains returns the domain names in catalog order.
func Domains() []string {
	out := make([]string, len(Catalog))
	for i, d := range Catalog {
		out[i] = d.Domain
	}
	return out
}

// ByDomain looks up a definition by its normalized domain name.
func ByDomain(domain string) (Definition, bool) {
	for _, d := range Catalog {
		if d.Domain == domain {
			return d, true
		}
	}
	return Definition{}, false
}

// Known reports whether domain names a catalog entry.
func Known(domain string) bool {
	_, ok := ByDomain(domain)
	return ok
}

// Normalize canonicalizes a domain name: trimmed, lowercased, hyphens to
// underscores. It does not validate membership; callers check Known.
func Normalize(domain string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(domain)), "-", "_")
}
