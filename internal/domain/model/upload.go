package model

import "time"

// FileType classifies an uploaded file by media kind.
type FileType string

const (
	FileVideo    FileType = "video"
	FileAudio    FileType = "audio"
	FileSubtitle FileType = "subtitle"
)

func (t FileType) IsValid() bool {
	switch t {
	case FileVideo, FileAudio, FileSubtitle:
		return true
	default:
		return false
	}
}

func (t FileType) String() string {
	return string(t)
}

// Upload is the metadata record for one ingested file. The physical bytes
// live at StoredPath; if they disappear the record must be purged.
type Upload struct {
	FileID       string
	OriginalName string
	Size         int64
	MimeType     string
	FileType     FileType
	StoredPath   string
	FileHash     string
	CreatedAt    time.Time
	TTLSeconds   int64
}

// ExpiresAt returns the moment after which the upload may be swept.
func (u *Upload) ExpiresAt() time.Time {
	return u.CreatedAt.Add(time.Duration(u.TTLSeconds) * time.Second)
}

// IsExpired reports whether the upload's TTL has elapsed at the given time.
func (u *Upload) IsExpired(now time.Time) bool {
	return now.After(u.ExpiresAt())
}
