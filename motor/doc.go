// Package motor implements the communication actor for Applied Motion
// ethernet stepper drives.
//
// A Motor owns one TCP connection to a drive and serializes every exchange on
// it. While running, a single executor goroutine services commands bridged
// from other goroutines and maintains an adaptive heartbeat that keeps the
// status snapshot fresh, reconnects dropped drives and emits movement
// signals. Compound operations such as MoveTo and SetPosition compose the
// primitive SCL commands defined in the scl package.
package motor
