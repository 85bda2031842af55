// Package bot owns the per-streamer Twitch chat sessions: acquiring exclusive
// session ownership across instances, dispatching chat into the games and the
// overlay bus, and sweeping idle avatars off screen.
package bot

import (
	"errors"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

var (
	// ErrAlreadyElsewhere means another live instance owns this streamer's session.
	ErrAlreadyElsewhere = errors.New("bot: session owned by another instance")
	// ErrCredentialMissing means the streamer has no profile or stored tokens.
	ErrCredentialMissing = errors.New("bot: streamer has no usable credentials")
	// ErrAuthRejected means Twitch refused the stored or refreshed credentials.
	ErrAuthRejected = errors.New("bot: twitch rejected the credentials")
	// ErrConnectTimeout means the IRC connect was not acknowledged in time.
	ErrConnectTimeout = errors.New("bot: connect not acknowledged in time")
)

const (
	createLockTTL     = 10 * time.Second
	tokenRefreshGrace = 60 * time.Second
	watchdogFirstPass = 10 * time.Second

	sweepPeriodMin = time.Second
	sweepPeriodMax = 10 * time.Second
)

// ircClient is the slice of the go-twitch-irc client the manager drives.
type ircClient interface {
	OnConnect(callback func())
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnNoticeMessage(callback func(message twitch.NoticeMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// newIRCClient is a test seam; production always builds a real IRC client.
var newIRCClient = func(username, accessToken string) ircClient {
	return twitch.NewClient(username, "oauth:"+accessToken)
}
