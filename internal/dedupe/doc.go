// Package dedupe remembers recently delivered inbound message ids so that
// webhook redeliveries and bridge replays are answered only once.
package dedupe
