package playback

import (
	"net/url"

	"playback-orchestrator/internal/media"
)

// Launch defaults.
const (
	DefaultLaunchVideo media.ID = "vp9-720p-mp4"
	DefaultLaunchAudio media.ID = "opus_mp4"
)

var launchVideoParams = [...]string{"video0", "video1", "video2", "video3"}

// LaunchPlan is the set of media a launch prefetches. Videos[0] plays on the
// primary element together with Audio.
type LaunchPlan struct {
	Videos [len(launchVideoParams)]media.ID
	Audio  media.ID
}

// ParseLaunchPlan reads video0..video3 and audio from q. Missing values take
// the defaults, and so do empty ones: "?video0=" plays DefaultLaunchVideo
// rather than failing the catalog lookup for an empty id.
func ParseLaunchPlan(q url.Values) LaunchPlan {
	var p LaunchPlan
	for i, key := range launchVideoParams {
		p.Videos[i] = media.ID(q.Get(key))
		if p.Videos[i] == "" {
			p.Videos[i] = DefaultLaunchVideo
		}
	}
	p.Audio = media.ID(q.Get("audio"))
	if p.Audio == "" {
		p.Audio = DefaultLaunchAudio
	}
	return p
}

// IDs returns every identifier in prefetch order, videos first.
func (p LaunchPlan) IDs() []media.ID {
	ids := make([]media.ID, 0, len(p.Videos)+1)
	ids = append(ids, p.Videos[:]...)
	return append(ids, p.Audio)
}

// PrimaryRequest is the session request a launch starts.
func (p LaunchPlan) PrimaryRequest() Request {
	return Request{ElementID: PrimaryElementID, VideoID: p.Videos[0], AudioID: p.Audio}
}
