package media

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var versionSegment = regexp.MustCompile(`^v[0-9]+$`)

// ParseAssetURL extracts the public id and resource type from a Cloudinary
// delivery URL such as
//
//	https://res.cloudinary.com/demo/video/upload/v1712345678/clips/intro.mp4
//
// The public id is everything after the last version segment (or after
// "upload" when there is none) without the file extension. Raw assets keep
// their extension.
func ParseAssetURL(raw string) (publicID, resourceType string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Path == "" {
		return "", "", fmt.Errorf("invalid asset url %q", raw)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")

	uploadIdx := -1
	for i, segment := range segments {
		if segment == "upload" {
			uploadIdx = i
			break
		}
	}
	if uploadIdx < 1 {
		return "", "", fmt.Errorf("asset url %q has no upload segment", raw)
	}

	resourceType = "image"
	switch segments[uploadIdx-1] {
	case "image", "video", "raw":
		resourceType = segments[uploadIdx-1]
	}

	start := uploadIdx + 1
	for i := len(segments) - 1; i > uploadIdx; i-- {
		if versionSegment.MatchString(segments[i]) {
			start = i + 1
			break
		}
	}
	if start >= len(segments) {
		return "", "", fmt.Errorf("asset url %q has no public id", raw)
	}

	publicID = strings.Join(segments[start:], "/")
	if resourceType != "raw" {
		publicID = strings.TrimSuffix(publicID, path.Ext(publicID))
	}
	if publicID == "" {
		return "", "", fmt.Errorf("asset url %q has no public id", raw)
	}

	return publicID, resourceType, nil
}
