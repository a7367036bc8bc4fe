// Package notify delivers promotion offers to vehicle owners by SMS.
//
// Delivery is fire-and-forget: failures are logged and dropped. The
// attendant still sees the offer on screen, so a lost text never blocks a
// promotion.
package notify
