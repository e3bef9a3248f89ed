package playback

import (
	"net/url"
	"testing"

	"playback-orchestrator/internal/media"

	"github.com/google/go-cmp/cmp"
)

func TestParseLaunchPlan(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		videos [4]media.ID
		audio  media.ID
	}{
		{
			name:   "defaults",
			query:  "",
			videos: [4]media.ID{DefaultLaunchVideo, DefaultLaunchVideo, DefaultLaunchVideo, DefaultLaunchVideo},
			audio:  DefaultLaunchAudio,
		},
		{
			name:   "partial",
			query:  "video0=h264_720p_60fps_drm&video2=vp9-360p&audio=aac_clear",
			videos: [4]media.ID{"h264_720p_60fps_drm", DefaultLaunchVideo, "vp9-360p", DefaultLaunchVideo},
			audio:  "aac_clear",
		},
		{
			name:   "empty values fall back",
			query:  "video1=&audio=",
			videos: [4]media.ID{DefaultLaunchVideo, DefaultLaunchVideo, DefaultLaunchVideo, DefaultLaunchVideo},
			audio:  DefaultLaunchAudio,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			p := ParseLaunchPlan(q)
			if p.Videos != tt.videos {
				t.Errorf("videos = %v, want %v", p.Videos, tt.videos)
			}
			if p.Audio != tt.audio {
				t.Errorf("audio = %q, want %q", p.Audio, tt.audio)
			}
		})
	}
}

func TestLaunchPlan_IDs_and_PrimaryRequest(t *testing.T) {
	p := LaunchPlan{Videos: [4]media.ID{"a", "b", "c", "d"}, Audio: "x"}

	want := []media.ID{"a", "b", "c", "d", "x"}
	if diff := cmp.Diff(want, p.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}

	req := p.PrimaryRequest()
	if req.ElementID != PrimaryElementID || req.VideoID != "a" || req.AudioID != "x" || !req.Primary() {
		t.Errorf("PrimaryRequest = %+v", req)
	}
}
