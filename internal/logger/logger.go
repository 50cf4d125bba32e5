package logger

import (
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

func New(logLevel string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

// ServiceStart logs daemon startup.
func (l *Logger) ServiceStart(version, pid string) {
	l.Info("service starting",
		slog.String("version", version),
		slog.String("pid", pid))
}

// ServiceStop logs daemon shutdown.
func (l *Logger) ServiceStop() {
	l.Info("service stopping")
}

// AddressEvent logs a NEW_ADDR/DEL_ADDR cache mutation.
func (l *Logger) AddressEvent(action, iface, addr string, virtual bool) {
	l.Info("address event processed",
		slog.String("action", action),
		slog.String("interface", iface),
		slog.String("address", addr),
		slog.Bool("virtual", virtual))
}

// InterfaceEvent logs an IF_INFO cache mutation.
func (l *Logger) InterfaceEvent(iface string, up bool, repopulated int) {
	l.Info("interface event processed",
		slog.String("interface", iface),
		slog.Bool("up", up),
		slog.Int("addresses_repopulated", repopulated))
}

// RoamScheduled logs a coalesced roam event being scheduled.
func (l *Logger) RoamScheduled(addressChanged bool, delay string) {
	l.Info("roam event scheduled",
		slog.Bool("address_changed", addressChanged),
		slog.String("delay", delay))
}

// QueryTimeout logs a route-get or virtual-IP wait exceeding its bound.
func (l *Logger) QueryTimeout(op string, seq int32) {
	l.Warn("rendezvous wait timed out",
		slog.String("op", op),
		slog.Int("seq", int(seq)))
}

// ProtocolDropped logs a malformed inbound message being discarded.
func (l *Logger) ProtocolDropped(reason string, msgType uint8) {
	l.Warn("dropped malformed routing-socket message",
		slog.String("reason", reason),
		slog.Int("msg_type", int(msgType)))
}

// VirtualIP logs a virtual-IP install/uninstall outcome.
func (l *Logger) VirtualIP(action, vip, iface string, success bool) {
	l.Info("virtual IP operation",
		slog.String("action", action),
		slog.String("vip", vip),
		slog.String("interface", iface),
		slog.Bool("success", success))
}

// Performance logs arbitrary timing/metric fields at debug level.
func (l *Logger) Performance(operation string, metrics map[string]interface{}) {
	args := []interface{}{
		"operation", operation,
	}

	for k, v := range metrics {
		args = append(args, k, v)
	}

	l.Debug("performance metrics", args...)
}
