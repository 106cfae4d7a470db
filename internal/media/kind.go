package media

import (
	"path"
	"strings"

	"github.com/h2non/filetype"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

var extKinds = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".m4v":  KindVideo,
	".webm": KindVideo,
}

// KindForURL classifies a media URL by file extension. Unknown extensions
// are generic files.
func KindForURL(rawURL string) Kind {
	ext := strings.ToLower(path.Ext(stripQuery(rawURL)))
	if kind, ok := extKinds[ext]; ok {
		return kind
	}
	return KindFile
}

// DetectKind classifies fetched bytes by magic number, falling back to the
// URL extension when the content is unrecognized.
func DetectKind(data []byte, rawURL string) Kind {
	if t, err := filetype.Match(data); err == nil {
		switch {
		case strings.HasPrefix(t.MIME.Value, "image/"):
			return KindImage
		case strings.HasPrefix(t.MIME.Value, "video/"):
			return KindVideo
		}
	}
	return KindForURL(rawURL)
}

func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
