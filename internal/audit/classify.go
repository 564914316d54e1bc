package audit

import "strings"

// DeprecatedVideoDomain identifies embeds of Microsoft Stream (Classic).
const DeprecatedVideoDomain = "microsoftstream.com"

// IsDeprecatedEmbed reports whether the web part embeds the deprecated video
// service. The comparison is a case-sensitive substring test.
func IsDeprecatedEmbed(c Component) bool {
	if c.EmbedCode == "" {
		return false
	}
	return strings.Contains(c.EmbedCode, DeprecatedVideoDomain)
}
