package model

type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	}
	return false
}

// AttemptStage is the step of a handshake attempt a failure was raised in.
type AttemptStage string

const (
	StageIdle        AttemptStage = "idle"
	StageIssuing     AttemptStage = "issuing"
	StageCaptcha     AttemptStage = "captcha"
	StageRecognizing AttemptStage = "recognizing"
	StageSubmitting  AttemptStage = "submitting"
	StageSuccess     AttemptStage = "success"
	StageRetryable   AttemptStage = "retryable"
	StageExhausted   AttemptStage = "exhausted"
)

type JobTrigger string

const (
	JobTriggerTimer  JobTrigger = "timer"
	JobTriggerManual JobTrigger = "manual"
	JobTriggerDaily  JobTrigger = "daily"
)
