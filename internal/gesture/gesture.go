// Package gesture names the recognized hand gestures and debounces the
// recognizer's per-frame output into discrete gesture events.
package gesture

// Name is a gesture category as reported by the recognizer.
type Name string

const (
	ThumbUp    Name = "Thumb_Up"
	ThumbDown  Name = "Thumb_Down"
	OpenPalm   Name = "Open_Palm"
	ClosedFist Name = "Closed_Fist"
	Victory    Name = "Victory"
	PointingUp Name = "Pointing_Up"
	ILoveYou   Name = "ILoveYou"
	None       Name = "None"
)

// All lists every known gesture except None.
var All = []Name{ThumbUp, ThumbDown, OpenPalm, ClosedFist, Victory, PointingUp, ILoveYou}

// Known reports whether n is a category the recognizer can produce.
func (n Name) Known() bool {
	if n == None {
		return true
	}
	for _, k := range All {
		if n == k {
			return true
		}
	}
	return false
}

// Label is a short human-readable description.
func (n Name) Label() string {
	switch n {
	case ThumbUp:
		return "Scroll to top"
	case ThumbDown:
		return "Scroll to bottom"
	case ClosedFist:
		return "Scroll down"
	case PointingUp:
		return "Scroll up"
	case OpenPalm:
		return "Open palm"
	case Victory:
		return "Victory"
	case ILoveYou:
		return "I love you"
	}
	return string(n)
}
