package domain

import "time"

type VideoID string

// Video is one imported clip. Metadata may outlive the handle across a
// reload; HasValidFile reports whether Handle is currently playable.
type Video struct {
	ID           VideoID   `json:"id"`
	Name         string    `json:"name"`
	Duration     float64   `json:"duration"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	ImportedAt   time.Time `json:"imported_at"`
	HasValidFile bool      `json:"hasValidFile"`

	Content *Blob  `json:"-"`
	Handle  Handle `json:"-"`
}

func (v *Video) Playable() bool {
	return v != nil && v.HasValidFile && v.Handle != ""
}

// Eligible reports whether the video can be used by a game session.
func (v *Video) Eligible() bool {
	return v.Playable() && v.Duration > 0
}

// Metadata returns a copy without binary content or handle, suitable for
// persistence.
func (v *Video) Metadata() Video {
	return Video{
		ID:           v.ID,
		Name:         v.Name,
		Duration:     v.Duration,
		Size:         v.Size,
		MimeType:     v.MimeType,
		ImportedAt:   v.ImportedAt,
		HasValidFile: v.HasValidFile,
	}
}

func (v *Video) Clone() *Video {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
