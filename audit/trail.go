package audit

import (
	"os"

	"github.com/avovello/stagerun/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Trail appends one json line per session transition to a file, giving
// operators a durable record to inspect after a run ends. A nil Trail
// records nothing.
type Trail struct {
	fileName string
	logger   *zap.Logger
}

func NewTrail(fileName string) (*Trail, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = "" // to hide stacktrace info
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &Trail{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (tr *Trail) RecordTransition(session *model.RunSession) {
	if tr == nil {
		return
	}
	tr.logger.Info("transition", zap.String("session", session.Id), zap.String("workflow", session.Definition.Name), zap.String("state", string(session.State)), zap.Int("phaseIndex", session.CurrentPhaseIndex))
}

func (tr *Trail) RecordDecision(sessionId string, decision model.Decision) {
	if tr == nil {
		return
	}
	tr.logger.Info("decision", zap.String("session", sessionId), zap.String("type", string(decision.Type)), zap.String("feedback", decision.Feedback))
}
