package app

import (
	"time"

	"github.com/charlesng35/duocal/internal/auth"
	"github.com/charlesng35/duocal/internal/auth/providers"
	"github.com/charlesng35/duocal/internal/services"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// LocalProviderConfig converts AuthConfig into LocalProvider parameters.
func (c AuthConfig) LocalProviderConfig() providers.LocalConfig {
	duration := c.Local.LockoutDuration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}

	threshold := c.Local.LockoutThreshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}

	return providers.LocalConfig{
		LockoutThreshold:         threshold,
		LockoutDuration:          duration,
		RequireEmailVerification: c.Local.RequireEmailVerification,
	}
}

// TokenTTLs converts the emailed-link lifetimes, keeping defaults for unset values.
func (c AuthConfig) TokenTTLs() services.TokenTTLs {
	ttls := services.DefaultTokenTTLs()
	if c.Tokens.EmailVerificationTTL > 0 {
		ttls.EmailVerification = c.Tokens.EmailVerificationTTL
	}
	if c.Tokens.PasswordResetTTL > 0 {
		ttls.PasswordReset = c.Tokens.PasswordResetTTL
	}
	if c.Tokens.MagicLinkTTL > 0 {
		ttls.MagicLink = c.Tokens.MagicLinkTTL
	}
	return ttls
}
