package upstream

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// zapLeveled adapts zap to retryablehttp.LeveledLogger.
type zapLeveled struct {
	s *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = zapLeveled{}

func (l zapLeveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
