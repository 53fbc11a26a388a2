package core

// Invariant elevates a "can't happen" condition (spec §9's note on
// `abort()` in the original C) to an explicit, logged, loud failure instead
// of silent corruption. It never recovers the condition itself — the caller
// decides whether to continue after logging in production; what happens
// after the Fatal log line is up to core.OnFatal, which a test can replace.
func Invariant(cond bool, subject Subject, msg string, kv ...any) {
	if cond {
		return
	}
	Log.Fatal(subject, "invariant violated: "+msg, kv...)
}
