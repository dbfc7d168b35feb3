package app

import (
	"strings"

	"github.com/charlesng35/duocal/internal/services"
)

// EngineConfig converts partner settings into the pairing engine configuration.
// baseURL is the public web origin used for invitation links.
func (c PartnerSettings) EngineConfig(baseURL string) services.PartnerConfig {
	allowed := make([]string, 0, len(c.AllowedEmails))
	for _, email := range c.AllowedEmails {
		if email = strings.TrimSpace(email); email != "" {
			allowed = append(allowed, email)
		}
	}

	return services.PartnerConfig{
		AllowedEmails: allowed,
		InvitationTTL: c.InvitationTTL,
		TokenBytes:    c.TokenBytes,
		BaseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}
