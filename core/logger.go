package core

// Logger is any leveled logger the app can report to.
// Implementations may inspect args for well-known types (eg. a user.User
// to attach the acting account to an error report).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
