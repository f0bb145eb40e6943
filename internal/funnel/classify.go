// Package funnel groups campaign insights into funnel rollups by the funnel
// token embedded in campaign names.
package funnel

import (
	"regexp"

	"github.com/sells-group/funnel-sync/internal/model"
)

var funnelToken = regexp.MustCompile(`(?i)funnel\s*(\d+)`)

// Classify returns the funnel id for a campaign name: the digits following the
// first "Funnel" token (case-insensitive, optional whitespace), or
// model.UnknownFunnelID when the name carries no token.
func Classify(campaignName string) string {
	m := funnelToken.FindStringSubmatch(campaignName)
	if m == nil {
		return model.UnknownFunnelID
	}
	return m[1]
}

// Name renders the human-readable funnel name for a funnel id.
func Name(funnelID string) string {
	return "Funnel #" + funnelID
}
