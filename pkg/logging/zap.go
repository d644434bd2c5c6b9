package logging

import "go.uber.org/zap"

type zapWrapper struct {
	logger *zap.Logger
}

func (l zapWrapper) WithField(key string, value interface{}) Interface {
	return zapWrapper{l.logger.With(zap.Any(key, value))}
}

func (l zapWrapper) WithError(err error) Interface {
	return zapWrapper{l.logger.With(zap.Error(err))}
}

// Every method skips one extra frame so the caller, not this file, is reported.
func (l zapWrapper) Debug(msg string) { l.skip().Debug(msg) }
func (l zapWrapper) Info(msg string)  { l.skip().Info(msg) }
func (l zapWrapper) Warn(msg string)  { l.skip().Warn(msg) }
func (l zapWrapper) Error(msg string) { l.skip().Error(msg) }
func (l zapWrapper) Fatal(msg string) { l.skip().Fatal(msg) }
func (l zapWrapper) Debugf(format string, args ...interface{}) {
	l.skip().Debug(fmtMsg(format, args))
}
func (l zapWrapper) Infof(format string, args ...interface{}) {
	l.skip().Info(fmtMsg(format, args))
}
func (l zapWrapper) Warnf(format string, args ...interface{}) {
	l.skip().Warn(fmtMsg(format, args))
}
func (l zapWrapper) Errorf(format string, args ...interface{}) {
	l.skip().Error(fmtMsg(format, args))
}
func (l zapWrapper) Fatalf(format string, args ...interface{}) {
	l.skip().Fatal(fmtMsg(format, args))
}

func (l zapWrapper) skip() *zap.Logger {
	return l.logger.WithOptions(zap.AddCallerSkip(1))
}

// ForZap adapts a zap logger to Interface.
func ForZap(logger *zap.Logger) Interface {
	return zapWrapper{logger: logger}
}

// ForStage returns a zap-backed Interface tagged with the loop stage name.
func ForStage(logger *zap.Logger, stage string) Interface {
	return zapWrapper{logger: logger.Named(stage)}
}
