package webex

// ShouldForward decides whether a message is channel-eligible:
// direct messages always pass, group messages pass unless mention gating is
// on and the bot was not mentioned. Sender authorization is a separate,
// downstream concern.
//
//	roomType  requireMentionInGroups  mentionsBot  forward
//	direct    any                     any          yes
//	group     false                   any          yes
//	group     true                    true         yes
//	group     true                    false        no
func ShouldForward(msg CanonicalMessage, requireMentionInGroups bool) bool {
	if msg.RoomType == RoomDirect {
		return true
	}
	if !requireMentionInGroups {
		return true
	}
	return msg.MentionsBot
}
