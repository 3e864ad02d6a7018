package reconciler

import "strings"

// Match is a successful attribution of a streamer name to a registered user.
type Match struct {
	UserID    UserID
	Username  string
	EncoderID string
}

// Resolve attributes a free-text streamer name from the upstream snapshot to
// at most one registered encoder. The policy, in order:
//
//  1. A candidate matches if the streamer name contains its username
//     (case-folded) or its encoder id equals the streamer name exactly.
//  2. The first matching candidate in iteration order wins; ties between
//     overlapping usernames are not detected.
//  3. If nothing matched and exactly one active registration exists in the
//     whole system, that registration is the match. Broadcast software often
//     reports a display label rather than the username, and on a
//     single-presenter station there is only one possible presenter anyway.
//
// Substring matching trades precision for recall: "DJResin Live!" still
// attributes to username "djresin". Candidates must already be filtered to
// active registrations and ordered stably by the caller.
func Resolve(streamerName string, candidates []EncoderRegistration) (Match, bool) {
	folded := strings.ToLower(streamerName)
	for _, c := range candidates {
		byName := c.Username != "" && strings.Contains(folded, strings.ToLower(c.Username))
		byEncoder := c.EncoderID != "" && c.EncoderID == streamerName
		if byName || byEncoder {
			return Match{UserID: c.UserID, Username: c.Username, EncoderID: c.EncoderID}, true
		}
	}

	if len(candidates) == 1 {
		c := candidates[0]
		return Match{UserID: c.UserID, Username: c.Username, EncoderID: c.EncoderID}, true
	}

	return Match{}, false
}
