package validation

import (
	"strings"
	"testing"
)

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		wantErr  bool
	}{
		{"plain name", "scene-1.mp4", false},
		{"accented name", "générique final.webm", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"forward slash", "clips/scene.mp4", true},
		{"backslash", `clips\scene.mp4`, true},
		{"control character", "scene\x00.mp4", true},
		{"invalid utf8", "scene\xff.mp4", true},
		{"at limit", strings.Repeat("a", MaxFileNameLength), false},
		{"too long", strings.Repeat("a", MaxFileNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.fileName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFileName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "7f1d1a0e-4c43-4bde-9a4c-0a7a3c1b5e21", false},
		{"empty", "", true},
		{"not a uuid", "video-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "video ID")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("ééé", 1, 3, "name"); err != nil {
		t.Errorf("runes should be counted, got %v", err)
	}
	if err := ValidateStringLength("", 1, 3, "name"); err == nil {
		t.Error("expected error for short string")
	}
	if err := ValidateStringLength("abcd", 1, 3, "name"); err == nil {
		t.Error("expected error for long string")
	}
}
