package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

func grantMessage(link string, ttl, period time.Duration) string {
	return fmt.Sprintf(
		"✅ Payment received!\n\nHere is your private invite link (single use, valid for %d minutes):\n%s\n\nYour access is valid for %d days.",
		int(ttl/time.Minute), link, int(period/(24*time.Hour)),
	)
}

func expiryMessage(payURL string) string {
	if payURL == "" {
		return "🚫 Your subscription has ended and access to the channel was removed."
	}
	return fmt.Sprintf("🚫 Your subscription has ended and access to the channel was removed.\nRenew here:\n%s", payURL)
}

// PayURL returns the checkout entry point for identity under baseURL
func PayURL(baseURL, identity string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/pay?tg=" + url.QueryEscape(identity)
}
