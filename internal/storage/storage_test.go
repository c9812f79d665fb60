package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"VIDEO.MP4", "video/mp4"},
		{"video.m4v", "video/mp4"},
		{"video.mov", "video/quicktime"},
		{"video.avi", "video/x-msvideo"},
		{"video.mkv", "video/x-matroska"},
		{"video.webm", "video/webm"},
		{"frame.png", "image/png"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			assert.Equal(t, tt.wantType, getContentType(tt.filePath))
		})
	}
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "sources/u1/my_talk.mp4", SourceKey("u1", "my talk.mp4"))
	assert.Equal(t, "sources/u1/talk.mov", SourceKey("u1", "../../talk.mov"))
	assert.Equal(t, "sources/u1/source", SourceKey("u1", ""))

	assert.Equal(t, "exports/j1/talk__tiktok__12-41.mp4", ClipKey("j1", "talk__tiktok__12-41.mp4"))
	assert.Equal(t, "exports/j1/clip.mp4", ClipKey("j1", ""))
}
