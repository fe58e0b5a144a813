package domain

type (
	RoomCode    string
	PresenceKey string
)

// ScreenTopic derives the screen-share channel topic for a room.
func (c RoomCode) ScreenTopic() string {
	return "screen:" + string(c)
}

// Topic is the meeting-room channel topic.
func (c RoomCode) Topic() string {
	return string(c)
}

// MediaState is the self-reported enabled state of a participant's local
// tracks, published with every presence entry.
type MediaState struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}
