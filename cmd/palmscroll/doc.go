// Command palmscroll runs the gesture scrolling daemon and manages its
// settings.
//
//	palmscroll run               start the daemon
//	palmscroll toggle [on|off]   turn gesture control on or off in the focused tab
//	palmscroll status            show the session and recent gestures
//	palmscroll settings show     print the persisted settings
//	palmscroll settings set      change settings
//	palmscroll config sample     print a sample configuration
package main
