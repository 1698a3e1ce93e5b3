// Package dedupe provides a bounded, time-windowed key set used to suppress
// repeated work, such as pushing the same recipient several notifications
// about one conversation in quick succession.
package dedupe
