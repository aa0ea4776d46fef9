package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	ImportVideos(c *gin.Context)
	ListVideos(c *gin.Context)
	ReattachVideo(c *gin.Context)
	DeleteVideo(c *gin.Context)
	CreateSession(c *gin.Context)
	GetSession(c *gin.Context)
	ResetAll(c *gin.Context)
	SetRecordingKind(c *gin.Context)
	StartTake(c *gin.Context)
	StopTake(c *gin.Context)
	RestartTake(c *gin.Context)
	RestartRound(c *gin.Context)
	AdvanceRound(c *gin.Context)
	ToggleReview(c *gin.Context)
	DownloadAudio(c *gin.Context)
	ExportRound(c *gin.Context)
}

// EventBroadcaster pushes events to every connected UI client.
type EventBroadcaster interface {
	Broadcast(eventType string, payload interface{})
	ConnectionCount() int
}
