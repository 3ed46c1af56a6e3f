package handler

import (
	"github.com/mssola/useragent"

	"vigil/internal/vault/models"
)

// channelFromUserAgent classifies a check-in by the client that sent it.
// An explicit X-Client-Channel header wins over the user agent.
func channelFromUserAgent(header, userAgent string) models.CheckInChannel {
	switch models.CheckInChannel(header) {
	case models.ChannelWeb, models.ChannelMobile:
		return models.CheckInChannel(header)
	}
	if userAgent == "" {
		return models.ChannelUnknown
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return models.ChannelUnknown
	}
	if ua.Mobile() {
		return models.ChannelMobile
	}
	if name, _ := ua.Browser(); name != "" {
		return models.ChannelWeb
	}
	return models.ChannelUnknown
}
