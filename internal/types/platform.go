package types

import "strings"

// Platform is the target surface a post is generated for. Social platforms
// get fully link-stripped content; blog and listicle keep real hyperlinks.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformX         Platform = "x"
	PlatformBlog      Platform = "blog"
	PlatformListicle  Platform = "listicle"
)

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformLinkedIn, PlatformX, PlatformBlog, PlatformListicle:
		return p, true
	}
	return "", false
}

func (p Platform) IsSocial() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram, PlatformLinkedIn, PlatformX:
		return true
	}
	return false
}

func (p Platform) IsBlog() bool { return p == PlatformBlog }

func (p Platform) IsListicle() bool { return p == PlatformListicle }
